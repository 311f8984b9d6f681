package models

type District struct {
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"lat" yaml:"lat"`
	Longitude float64 `json:"lon" yaml:"lon"`
	Hilly     bool    `json:"hilly,omitempty" yaml:"hilly"`
}

// DistrictRisk is one row of the district list returned by the risk backend.
type DistrictRisk struct {
	District  string  `json:"district"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Level     string  `json:"level"`
	Score     float64 `json:"score"`
}
