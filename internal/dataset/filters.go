package dataset

import (
	"strings"
)

// Filter matches joined records against a parsed dataset query.
type Filter interface {
	Matches(t JoinedTrack) bool
}

var stringFields = map[string]func(JoinedTrack) string{
	"artist": func(t JoinedTrack) string { return t.Artist },
	"album":  func(t JoinedTrack) string { return t.Album },
	"genre":  func(t JoinedTrack) string { return t.Genre },
}

var numberFields = map[string]func(JoinedTrack) float64{
	"rating":       func(t JoinedTrack) float64 { return t.Rating },
	"popularity":   func(t JoinedTrack) float64 { return float64(t.Popularity) },
	"tempo":        func(t JoinedTrack) float64 { return t.Tempo },
	"danceability": func(t JoinedTrack) float64 { return t.Danceability },
	"energy":       func(t JoinedTrack) float64 { return t.Energy },
	"speechiness":  func(t JoinedTrack) float64 { return t.Speechiness },
	"valence":      func(t JoinedTrack) float64 { return t.Valence },
}

type AndFilter struct {
	filters []Filter
}

func (f *AndFilter) Matches(t JoinedTrack) bool {
	for _, filter := range f.filters {
		if !filter.Matches(t) {
			return false
		}
	}
	return true
}

type OrFilter struct {
	filters []Filter
}

func (f *OrFilter) Matches(t JoinedTrack) bool {
	for _, filter := range f.filters {
		if filter.Matches(t) {
			return true
		}
	}
	return false
}

type NotFilter struct {
	filter Filter
}

func (f *NotFilter) Matches(t JoinedTrack) bool {
	return !f.filter.Matches(t)
}

type SubstringFilter struct {
	field  func(JoinedTrack) string
	substr string
}

func (f *SubstringFilter) Matches(t JoinedTrack) bool {
	return strings.Contains(f.field(t), f.substr)
}

type StringEqFilter struct {
	field func(JoinedTrack) string
	value string
}

func (f *StringEqFilter) Matches(t JoinedTrack) bool {
	return f.field(t) == f.value
}

type StringLtFilter struct {
	field func(JoinedTrack) string
	value string
}

func (f *StringLtFilter) Matches(t JoinedTrack) bool {
	return f.field(t) < f.value
}

type StringGtFilter struct {
	field func(JoinedTrack) string
	value string
}

func (f *StringGtFilter) Matches(t JoinedTrack) bool {
	return f.field(t) > f.value
}

type NumberEqFilter struct {
	field func(JoinedTrack) float64
	value float64
}

func (f *NumberEqFilter) Matches(t JoinedTrack) bool {
	return f.field(t) == f.value
}

type NumberLtFilter struct {
	field func(JoinedTrack) float64
	value float64
}

func (f *NumberLtFilter) Matches(t JoinedTrack) bool {
	return f.field(t) < f.value
}

type NumberGtFilter struct {
	field func(JoinedTrack) float64
	value float64
}

func (f *NumberGtFilter) Matches(t JoinedTrack) bool {
	return f.field(t) > f.value
}
