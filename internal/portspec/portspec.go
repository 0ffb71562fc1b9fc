// Package portspec parses port specifications such as "22,80,8000-8100" or
// "common,web" into ordered port lists.
package portspec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

var (
	// ErrEmptySpec is returned for a specification without any token.
	ErrEmptySpec = errors.New("empty port specification")

	// ErrInvalidPort is returned for a token that is not a port in 1..65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrInvalidRange is returned for a range whose start is above its end.
	ErrInvalidRange = errors.New("invalid port range: start greater than end")

	// ErrUnknownSet is returned for a name that is neither built in nor custom.
	ErrUnknownSet = errors.New("unknown port set")
)

// Sets maps set names to port lists. Custom sets from the configuration file
// use the same shape.
type Sets map[string][]uint16

// builtin holds the named sets every specification may use.
var builtin = Sets{
	"common": {
		21, 22, 23, 25, 53, 80, 110, 111, 135, 139, 143, 443, 445, 993, 995,
		1723, 3306, 3389, 5900, 8080,
	},
	"web": {80, 81, 443, 591, 2082, 2083, 3000, 5000, 8000, 8008, 8080, 8081, 8088, 8443, 8888, 9000, 9443},
	"mail": {25, 110, 143, 465, 587, 993, 995, 2525},
	"db": {1433, 1521, 3306, 5432, 5984, 6379, 7000, 9042, 9200, 11211, 27017, 27018, 28017},
	"udp": {53, 67, 69, 123, 137, 161, 500, 514, 520, 1900, 5353, 11211},
	"top100": {
		7, 9, 13, 21, 22, 23, 25, 26, 37, 53, 79, 80, 81, 88, 106, 110, 111, 113, 119, 135,
		139, 143, 144, 179, 199, 389, 427, 443, 444, 445, 465, 513, 514, 515, 543, 544, 548,
		554, 587, 631, 646, 873, 990, 993, 995, 1025, 1026, 1027, 1028, 1029, 1110, 1433,
		1720, 1723, 1755, 1900, 2000, 2001, 2049, 2121, 2717, 3000, 3128, 3306, 3389, 3986,
		4899, 5000, 5009, 5051, 5060, 5101, 5190, 5357, 5432, 5631, 5666, 5800, 5900, 6000,
		6001, 6646, 7070, 8000, 8008, 8009, 8080, 8081, 8443, 8888, 9100, 9999, 10000, 32768,
		49152, 49153, 49154, 49155, 49156, 49157,
	},
}

// SetAll names the full port range.
const SetAll = "all"

// Builtin returns the names of the built-in sets, sorted.
func Builtin() []string {
	names := slices.Collect(maps.Keys(builtin))
	names = append(names, SetAll)
	slices.Sort(names)
	return names
}

// Parse expands spec into ports. Tokens are separated by commas and may be a
// port, a range "a-b", or a set name. Custom sets shadow built-in ones of the
// same name. The result keeps the order in which ports first appear.
func Parse(spec string, custom Sets) ([]uint16, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, ErrEmptySpec
	}

	var (
		ports []uint16
		seen  = make(map[uint16]bool)
	)
	add := func(p uint16) {
		if !seen[p] {
			seen[p] = true
			ports = append(ports, p)
		}
	}

	for _, token := range strings.Split(spec, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("%w: empty token in %q", ErrEmptySpec, spec)
		}
		if set, ok, err := lookupSet(token, custom); err != nil {
			return nil, err
		} else if ok {
			for _, p := range set {
				add(p)
			}
			continue
		}

		lo, hi, err := parseRange(token)
		if err != nil {
			return nil, err
		}
		for p := lo; ; p++ {
			add(uint16(p))
			if p == hi {
				break
			}
		}
	}
	return ports, nil
}

// ParseAll parses several specifications, as given by repeated flags, into
// one de-duplicated list.
func ParseAll(specs []string, custom Sets) ([]uint16, error) {
	if len(specs) == 0 {
		return nil, ErrEmptySpec
	}
	return Parse(strings.Join(specs, ","), custom)
}

func lookupSet(token string, custom Sets) ([]uint16, bool, error) {
	first := token[0]
	if first >= '0' && first <= '9' {
		return nil, false, nil
	}
	name := strings.ToLower(token)
	if set, ok := custom[name]; ok {
		return set, true, nil
	}
	if name == SetAll {
		all := make([]uint16, 0, 65535)
		for p := 1; p <= 65535; p++ {
			all = append(all, uint16(p))
		}
		return all, true, nil
	}
	if set, ok := builtin[name]; ok {
		return set, true, nil
	}
	return nil, false, fmt.Errorf("%w: %q (built-in sets: %s)", ErrUnknownSet, token, strings.Join(Builtin(), ", "))
}

func parseRange(token string) (int, int, error) {
	loText, hiText, isRange := strings.Cut(token, "-")
	lo, err := parsePort(loText)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := parsePort(hiText)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidRange, token)
	}
	return lo, hi, nil
}

func parsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || p < 1 || p > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	return p, nil
}
