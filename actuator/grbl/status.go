package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mastercactapus/gscan/coord"
)

// Status is a `<...>` status report.
type Status struct {
	State string
	MPos  coord.Point
	WCO   coord.Point
}

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) < 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// parseStatus applies a report to the previous status; Grbl omits WCO from
// most reports.
func parseStatus(stat Status, data string) (*Status, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	stat.State = parts[0]
	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			stat.MPos, err = parseCoords(sParts[1])
		case "WCO":
			stat.WCO, err = parseCoords(sParts[1])
		}
		if err != nil {
			return nil, err
		}
	}
	return &stat, nil
}

func axisValue(p coord.Point, axis byte) (float64, bool) {
	switch axis {
	case 'X':
		return p.X, true
	case 'Y':
		return p.Y, true
	case 'Z':
		return p.Z, true
	}
	return 0, false
}
