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

package refdata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const poiCSV = "\ufeffValve Tag,Valve Type,Global Channel,KP,Legacy Route Name\n" +
	"V-100,Launcher,11900,,Route  A\n" +
	"V-110,Block Valve,12000.0,2.5,route a\n" +
	",Block Valve,12050,2.6,Route A\n" +
	"V-200,Receiver,,7.25,\n"

func TestReadPOIs(t *testing.T) {
	pois, skipped, err := ReadPOIs(strings.NewReader(poiCSV))
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, pois, 3)

	assert.Equal(t, "V-100", pois[0].Tag)
	assert.Equal(t, "Launcher", pois[0].Type)
	assert.Equal(t, "route a", pois[0].Route)
	require.NotNil(t, pois[0].GlobalChannel)
	assert.Equal(t, 11900, *pois[0].GlobalChannel)
	assert.Nil(t, pois[0].KP)

	require.NotNil(t, pois[1].GlobalChannel)
	assert.Equal(t, 12000, *pois[1].GlobalChannel)
	require.NotNil(t, pois[1].KP)
	assert.InDelta(t, 2.5, *pois[1].KP, 1e-9)

	assert.Equal(t, UnknownRoute, pois[2].Route)
	assert.Nil(t, pois[2].GlobalChannel)
}

func TestReadPOIs_HeaderAliases(t *testing.T) {
	in := "Tag,Type,GC,matched_kp,Legacy\nP1,Valve,10,0.25,North\n"
	pois, skipped, err := ReadPOIs(strings.NewReader(in))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, pois, 1)
	assert.Equal(t, "north", pois[0].Route)
	assert.InDelta(t, 0.25, *pois[0].KP, 1e-9)
}

func TestReadGCtoKP(t *testing.T) {
	in := "Global Channel,KP\n100,1.0\n101,1.1\nbad,1.2\n102,\n"
	table, skipped, err := ReadGCtoKP(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	assert.Equal(t, map[int]float64{100: 1.0, 101: 1.1}, table)
}

func TestReadRows_Empty(t *testing.T) {
	table, skipped, err := ReadGCtoKP(strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Empty(t, table)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, POIFile), []byte(poiCSV), 0o600))

	ref, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, ref.POIs, 3)
	// GCtoKP.csv is absent
	assert.Empty(t, ref.GCtoKP)
	assert.Equal(t, []string{"route a", UnknownRoute}, ref.Routes())
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Route   A ", "route a"},
		{"ROUTE-B", "route-b"},
		{"", UnknownRoute},
		{"   ", UnknownRoute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRoute(tt.in), tt.in)
	}
}

func TestResolveRoute(t *testing.T) {
	routes := []string{"north loop", "south loop", "edmonton mainline"}

	got, ok := ResolveRoute("North Loop", routes)
	assert.True(t, ok)
	assert.Equal(t, "north loop", got)

	got, ok = ResolveRoute("edmonton mainlne", routes)
	assert.True(t, ok)
	assert.Equal(t, "edmonton mainline", got)

	_, ok = ResolveRoute("calgary", routes)
	assert.False(t, ok)
}

func TestApplyAliases(t *testing.T) {
	pois, _, err := ReadPOIs(strings.NewReader(
		"Tag,KP,Legacy Route\nA1,1.0,Main Line\nB1,2.0,Main Line (old)\nC1,3.0,Spur\n"))
	require.NoError(t, err)
	ref := &Reference{POIs: pois}

	applied, unresolved := ref.ApplyAliases(map[string]string{
		"Main Line (old)": "main lne",
		"Ghost":           "nowhere at all",
	})
	assert.Equal(t, map[string]string{"main line (old)": "main line"}, applied)
	assert.Equal(t, []string{"Ghost"}, unresolved)
	assert.Equal(t, []string{"main line", "spur"}, ref.Routes())
}
