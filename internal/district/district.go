// Package district maps coordinates onto the fixed set of administrative zones
// used as cache and queue keys.
//
// Resolution uses planar Euclidean distance on raw latitude/longitude. That is a
// fair approximation across one state but not at continental scale.
package district

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mr1hm/offline-alert-relay/internal/models"
)

// Kerala is the built-in reference set.
var Kerala = []models.District{
	{Name: "Thiruvananthapuram", Latitude: 8.5241, Longitude: 76.9366},
	{Name: "Kollam", Latitude: 8.8932, Longitude: 76.6141},
	{Name: "Pathanamthitta", Latitude: 9.2648, Longitude: 76.7870, Hilly: true},
	{Name: "Alappuzha", Latitude: 9.4981, Longitude: 76.3388},
	{Name: "Kottayam", Latitude: 9.5916, Longitude: 76.5222},
	{Name: "Idukki", Latitude: 9.8517, Longitude: 76.9746, Hilly: true},
	{Name: "Ernakulam", Latitude: 9.9816, Longitude: 76.2999},
	{Name: "Thrissur", Latitude: 10.5276, Longitude: 76.2144},
	{Name: "Palakkad", Latitude: 10.7867, Longitude: 76.6547},
	{Name: "Malappuram", Latitude: 11.0735, Longitude: 76.0740, Hilly: true},
	{Name: "Kozhikode", Latitude: 11.2588, Longitude: 75.7804},
	{Name: "Wayanad", Latitude: 11.6854, Longitude: 76.1320, Hilly: true},
	{Name: "Kannur", Latitude: 11.8745, Longitude: 75.3704},
	{Name: "Kasaragod", Latitude: 12.5101, Longitude: 74.9852},
}

type Resolver struct {
	districts []models.District
}

func NewResolver(districts []models.District) (*Resolver, error) {
	if len(districts) == 0 {
		return nil, fmt.Errorf("district reference set is empty")
	}
	for i, d := range districts {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("district %d has no name", i)
		}
	}
	return &Resolver{districts: append([]models.District(nil), districts...)}, nil
}

func Default() *Resolver {
	r, _ := NewResolver(Kerala)
	return r
}

type file struct {
	Districts []models.District `yaml:"districts"`
}

// LoadFile reads a reference set from YAML:
//
//	districts:
//	  - name: Ernakulam
//	    lat: 9.9816
//	    lon: 76.2999
func LoadFile(path string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read districts file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse districts file: %w", err)
	}
	return NewResolver(f.Districts)
}

// Resolve returns the nearest district. On equal distance the first one in
// reference order wins. It never fails.
func (r *Resolver) Resolve(lat, lon float64) models.District {
	best := r.districts[0]
	bestDist := sqDist(lat, lon, best)
	for _, d := range r.districts[1:] {
		if dist := sqDist(lat, lon, d); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best
}

// Lookup finds a district by name, ignoring case.
func (r *Resolver) Lookup(name string) (models.District, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.District{}, models.Validationf("district name is required")
	}
	for _, d := range r.districts {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}
	return models.District{}, models.NotFoundf("%q", name)
}

func (r *Resolver) Districts() []models.District {
	return append([]models.District(nil), r.districts...)
}

// Squared distance keeps the ordering of the Euclidean one.
func sqDist(lat, lon float64, d models.District) float64 {
	dLat := lat - d.Latitude
	dLon := lon - d.Longitude
	return dLat*dLat + dLon*dLon
}
