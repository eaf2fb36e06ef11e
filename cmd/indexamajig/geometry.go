package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/crystfel-go/indexamajig/model"
)

// loadGeometry reads a minimal key=value detector geometry description.
// Real .geom parsing (panel groups, rigid-group hierarchies, bad-pixel
// masks loaded from HDF5) is an external collaborator, out of scope here;
// this covers a single flat panel list, enough to drive the rest of the
// pipeline end to end.
//
// Each non-blank, non-comment line is "panel/field = value", e.g.:
//
//	p0/min_fs = 0
//	p0/max_fs = 1023
//	p0/max_ss = 1023
//	p0/fs = x
//	p0/ss = y
//	p0/corner_x = -512
//	p0/corner_y = -512
//	p0/clen = 0.1
//	p0/adu_per_photon = 1
//	p0/max_adu = 10000
func loadGeometry(path string) (*model.Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}
	defer f.Close()

	panels := map[string]*model.Panel{}
	order := []string{}
	hash := sha256.New()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(hash, line)
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, val, ok := strings.Cut(trimmed, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		name, field, ok := strings.Cut(key, "/")
		if !ok {
			continue
		}
		p, ok := panels[name]
		if !ok {
			p = &model.Panel{Name: name, ADUPerPhoton: 1}
			panels[name] = p
			order = append(order, name)
		}
		if err := applyPanelField(p, field, val); err != nil {
			return nil, fmt.Errorf("geometry: panel %q: %w", name, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("geometry: %w", err)
	}

	geo := &model.Geometry{Digest: hex.EncodeToString(hash.Sum(nil))}
	for _, name := range order {
		geo.Panels = append(geo.Panels, *panels[name])
	}
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	return geo, nil
}

var fsUnit = map[string]model.Vec3{"x": {X: 1}, "y": {Y: 1}, "-x": {X: -1}, "-y": {Y: -1}}

func applyPanelField(p *model.Panel, field, val string) error {
	switch field {
	case "min_fs", "min_ss":
		return nil
	case "max_fs":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		p.Width = n + 1
	case "max_ss":
		n, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		p.Height = n + 1
	case "fs":
		v, ok := fsUnit[val]
		if !ok {
			return fmt.Errorf("unsupported fs axis %q", val)
		}
		p.FS = v
	case "ss":
		v, ok := fsUnit[val]
		if !ok {
			return fmt.Errorf("unsupported ss axis %q", val)
		}
		p.SS = v
	case "corner_x":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.Origin.X = f
	case "corner_y":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.Origin.Y = f
	case "clen":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.Clen = f
		p.Origin.Z = f
	case "clen_from":
		p.ClenFrom = val
	case "photon_energy_from":
		p.PhotonEnergyFrom = val
	case "coffset":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.CoffsetM = f
	case "adu_per_photon":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.ADUPerPhoton = f
	case "max_adu":
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		p.MaxADU = f
	}
	return nil
}
