/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package refdata loads the static line reference: points of interest per
// legacy route and the global channel to kilometer point table.
package refdata

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/pigwatch/pigwatch/model"
)

const (
	POIFile    = "POI.csv"
	GCtoKPFile = "GCtoKP.csv"

	// UnknownRoute is the route of POIs whose legacy route column is empty.
	UnknownRoute = "unknown"

	// aliasDrift is the share of the longer name that may differ for an alias to match.
	aliasDrift = 0.3
)

var (
	tagHeaders   = []string{"valve tag", "tag"}
	typeHeaders  = []string{"valve type", "type"}
	gcHeaders    = []string{"global channel", "gc"}
	kpHeaders    = []string{"kp", "matched_kp"}
	routeHeaders = []string{"legacy route name", "legacy route", "legacy"}
)

// Reference is the loaded line reference. It is read-only after Load.
type Reference struct {
	POIs   []model.POI
	GCtoKP map[int]float64
}

// Load reads POI.csv and GCtoKP.csv from dir. A missing file yields an empty
// table; a file that cannot be parsed at all is an error.
func Load(dir string) (*Reference, error) {
	ref := &Reference{GCtoKP: map[int]float64{}}

	if err := readFile(filepath.Join(dir, POIFile), func(r io.Reader) error {
		pois, skipped, err := ReadPOIs(r)
		if err != nil {
			return err
		}
		ref.POIs = pois
		logrus.WithFields(logrus.Fields{"file": POIFile, "rows": len(pois), "skipped": skipped}).Info("reference data loaded")
		return nil
	}); err != nil {
		return nil, err
	}

	if err := readFile(filepath.Join(dir, GCtoKPFile), func(r io.Reader) error {
		table, skipped, err := ReadGCtoKP(r)
		if err != nil {
			return err
		}
		ref.GCtoKP = table
		logrus.WithFields(logrus.Fields{"file": GCtoKPFile, "rows": len(table), "skipped": skipped}).Info("reference data loaded")
		return nil
	}); err != nil {
		return nil, err
	}

	return ref, nil
}

func readFile(path string, parse func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.WithField("file", path).Warn("reference file not found, using an empty table")
			return nil
		}
		return fmt.Errorf("error opening %s: %w", path, err)
	}
	defer f.Close()
	if err := parse(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// ReadPOIs parses a POI table. Rows without a tag are skipped and counted.
func ReadPOIs(r io.Reader) ([]model.POI, int, error) {
	var pois []model.POI
	skipped, err := readRows(r, func(row csvRow) bool {
		tag := row.pick(tagHeaders)
		if tag == "" {
			return false
		}
		pois = append(pois, model.POI{
			Tag:           tag,
			Type:          row.pick(typeHeaders),
			GlobalChannel: parseChannel(row.pick(gcHeaders)),
			KP:            parseFloat(row.pick(kpHeaders)),
			Route:         NormalizeRoute(row.pick(routeHeaders)),
		})
		return true
	})
	return pois, skipped, err
}

// ReadGCtoKP parses the channel table. Rows missing either value are skipped.
func ReadGCtoKP(r io.Reader) (map[int]float64, int, error) {
	table := map[int]float64{}
	skipped, err := readRows(r, func(row csvRow) bool {
		gc := parseChannel(row.pick(gcHeaders))
		kp := parseFloat(row.pick(kpHeaders))
		if gc == nil || kp == nil {
			return false
		}
		table[*gc] = *kp
		return true
	})
	return table, skipped, err
}

type csvRow struct {
	record  []string
	columns map[string]int
}

// pick returns the first non-empty value among the header aliases.
func (r csvRow) pick(headers []string) string {
	for _, h := range headers {
		i, ok := r.columns[h]
		if !ok || i >= len(r.record) {
			continue
		}
		if v := strings.TrimSpace(r.record[i]); v != "" {
			return v
		}
	}
	return ""
}

func readRows(r io.Reader, handle func(csvRow) bool) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading CSV headers: %w", err)
	}
	columns := createColumnMap(headers)

	skipped := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return skipped, err
		}
		if !handle(csvRow{record: record, columns: columns}) {
			skipped++
		}
	}
	return skipped, nil
}

func createColumnMap(headers []string) map[string]int {
	columns := make(map[string]int, len(headers))
	for i, h := range headers {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := columns[key]; !dup {
			columns[key] = i
		}
	}
	return columns
}

// parseChannel accepts integral channels written as floats ("120.0").
func parseChannel(s string) *int {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v := int(f)
	return &v
}

func parseFloat(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// NormalizeRoute folds a legacy route name to its lookup key.
func NormalizeRoute(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	if s == "" {
		return UnknownRoute
	}
	return s
}

// Routes returns the distinct route names, sorted.
func (r *Reference) Routes() []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range r.POIs {
		if !seen[p.Route] {
			seen[p.Route] = true
			names = append(names, p.Route)
		}
	}
	sort.Strings(names)
	return names
}

// ApplyAliases renames routes so that alias names share the POIs of their target.
// Each target is first matched against the loaded routes, tolerating small
// spelling differences; aliases whose target matches nothing are reported back.
func (r *Reference) ApplyAliases(aliases map[string]string) (applied map[string]string, unresolved []string) {
	applied = map[string]string{}
	routes := r.Routes()
	for alias, target := range aliases {
		resolved, ok := ResolveRoute(target, routes)
		if !ok {
			unresolved = append(unresolved, alias)
			continue
		}
		applied[NormalizeRoute(alias)] = resolved
	}
	for i := range r.POIs {
		if to, ok := applied[r.POIs[i].Route]; ok {
			r.POIs[i].Route = to
		}
	}
	sort.Strings(unresolved)
	return applied, unresolved
}

// ResolveRoute finds the route closest to name by edit distance. An exact match
// after normalization always wins.
func ResolveRoute(name string, routes []string) (string, bool) {
	key := NormalizeRoute(name)
	best, bestDist := "", -1
	for _, route := range routes {
		if route == key {
			return route, true
		}
		d := levenshtein.DistanceForStrings([]rune(key), []rune(route), levenshtein.DefaultOptions)
		maxLen := len([]rune(key))
		if l := len([]rune(route)); l > maxLen {
			maxLen = l
		}
		if float64(d) > float64(maxLen)*aliasDrift {
			continue
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = route, d
		}
	}
	return best, bestDist >= 0
}
