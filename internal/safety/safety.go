// Package safety keeps the safety instructions shown alongside risk levels,
// persisted so they are available offline.
package safety

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/mr1hm/offline-alert-relay/internal/repository"
)

//go:embed instructions.json
var defaultInstructions []byte

type Instruction struct {
	ID              string   `json:"id"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Steps           []string `json:"steps"`
	SeverityTrigger []string `json:"severity_trigger"`
}

// Matches reports whether the instruction applies to a severity level and,
// when kind is non-empty, to that disaster type.
func (i Instruction) Matches(severity, kind string) bool {
	if kind != "" && !strings.EqualFold(i.Type, kind) {
		return false
	}
	if severity == "" {
		return true
	}
	return slices.ContainsFunc(i.SeverityTrigger, func(s string) bool {
		return strings.EqualFold(s, severity)
	})
}

// Defaults returns the built-in instruction set.
func Defaults() []Instruction {
	out, err := parse(defaultInstructions)
	if err != nil {
		panic(fmt.Sprintf("embedded safety instructions: %v", err))
	}
	return out
}

// LoadFile reads an instruction list from a JSON file.
func LoadFile(path string) ([]Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read safety instructions: %w", err)
	}
	out, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

func parse(data []byte) ([]Instruction, error) {
	var out []Instruction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	for i, inst := range out {
		if inst.Type == "" || len(inst.SeverityTrigger) == 0 {
			return nil, fmt.Errorf("instruction %d needs a type and at least one severity", i)
		}
	}
	return out, nil
}

type Store struct {
	kv repository.KVStore
}

func NewStore(kv repository.KVStore) *Store {
	return &Store{kv: kv}
}

// Seed stores instructions unless a set is already stored. It reports whether
// it wrote.
func (s *Store) Seed(ctx context.Context, instructions []Instruction) (bool, error) {
	data, err := json.Marshal(instructions)
	if err != nil {
		return false, err
	}
	var wrote bool
	err = s.kv.Update(ctx, repository.KeySafetyInstructions, func(current []byte) ([]byte, error) {
		wrote = len(bytes.TrimSpace(current)) == 0
		if !wrote {
			return current, nil
		}
		return data, nil
	})
	return wrote, err
}

// Replace overwrites the stored set.
func (s *Store) Replace(ctx context.Context, instructions []Instruction) error {
	data, err := json.Marshal(instructions)
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, repository.KeySafetyInstructions, data)
}

// List returns the stored instructions matching severity and kind. Empty
// filters match everything.
func (s *Store) List(ctx context.Context, severity, kind string) ([]Instruction, error) {
	raw, err := s.kv.Get(ctx, repository.KeySafetyInstructions)
	if err != nil {
		return nil, err
	}
	out := []Instruction{}
	if len(raw) == 0 {
		return out, nil
	}
	var all []Instruction
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", repository.KeySafetyInstructions, err)
	}
	for _, inst := range all {
		if inst.Matches(severity, kind) {
			out = append(out, inst)
		}
	}
	return out, nil
}
