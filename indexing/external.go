package indexing

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/crystfel-go/indexamajig/model"
)

// ExternalBackend wraps an indexing program invoked as a subprocess, such as
// MOSFLM, DirAx, or XDS in CrystFEL proper. The wire protocol is reduced to
// the smallest thing that can carry a cell result: the program is given a
// peak list on stdin and is expected to print zero or more cells, one per
// line, as "a b c alpha beta gamma" (Angstrom, degrees).
type ExternalBackend struct {
	ProgramName string
	Path        string
	Args        []string
}

// NewExternalBackend returns a backend that shells out to path with args.
func NewExternalBackend(name, path string, args ...string) *ExternalBackend {
	return &ExternalBackend{ProgramName: name, Path: path, Args: args}
}

func (b *ExternalBackend) Name() string { return b.ProgramName }

func (b *ExternalBackend) Prior() PriorInfo { return PriorInfo{LatticeType: true} }

type externalHandle struct {
	lattice model.LatticeType
	cen     model.Centering
}

func (b *ExternalBackend) Prepare(_ context.Context, cell *model.UnitCell, _ Tolerances) (Handle, error) {
	h := &externalHandle{}
	if cell != nil {
		h.lattice = cell.Lattice
		h.cen = cell.Centering
	}
	return h, nil
}

func (b *ExternalBackend) Cleanup(Handle) {}

func (b *ExternalBackend) Index(ctx context.Context, img *model.Image, h Handle) ([]*model.UnitCell, error) {
	eh, _ := h.(*externalHandle)

	var stdin bytes.Buffer
	if img.Peaks != nil {
		for _, p := range img.Peaks.Peaks {
			fmt.Fprintf(&stdin, "%s %.3f %.3f %.6f\n", p.Panel, p.FS, p.SS, p.Intensity)
		}
	}

	cmd := exec.CommandContext(ctx, b.Path, b.Args...)
	cmd.Stdin = &stdin
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", b.ProgramName, err, stderr.String())
	}

	var cells []*model.UnitCell
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		cell, err := parseCellLine(scanner.Text(), eh)
		if err != nil {
			continue
		}
		cells = append(cells, cell)
	}
	return cells, scanner.Err()
}

func parseCellLine(line string, eh *externalHandle) (*model.UnitCell, error) {
	fields := strings.Fields(line)
	if len(fields) != 6 {
		return nil, fmt.Errorf("external backend: malformed cell line %q", line)
	}
	vals := make([]float64, 6)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("external backend: bad value %q: %w", f, err)
		}
		vals[i] = v
	}
	lat := model.LatticeTriclinic
	cen := model.CenteringP
	if eh != nil {
		lat, cen = eh.lattice, eh.cen
	}
	const deg = 3.14159265358979323846 / 180
	return model.NewFromParameters(vals[0], vals[1], vals[2], vals[3]*deg, vals[4]*deg, vals[5]*deg, lat, cen)
}
