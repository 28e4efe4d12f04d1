package pocache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// migration upgrades a raw snapshot from version From to From+1.
type migration struct {
	From    int
	Upgrade func(raw json.RawMessage) (json.RawMessage, error)
}

// migrations run in order until the snapshot reaches CurrentVersion.
var migrations = []migration{
	{From: 1, Upgrade: upgradeV1},
}

// decode parses raw, applying migrations as needed. The bool reports whether
// any migration ran.
func decode(raw []byte) (*Snapshot, bool, error) {
	version, err := detectVersion(raw)
	if err != nil {
		return nil, false, err
	}

	migrated := false
	for _, m := range migrations {
		if version != m.From {
			continue
		}
		raw, err = m.Upgrade(raw)
		if err != nil {
			return nil, false, fmt.Errorf("upgrade PO cache from v%d: %w", m.From, err)
		}
		version++
		migrated = true
	}
	if version != CurrentVersion {
		return nil, false, fmt.Errorf("unsupported PO cache version %d", version)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode PO cache: %w", err)
	}
	if snap.Entries == nil {
		snap.Entries = map[string]Entry{}
	}
	return &snap, migrated, nil
}

// detectVersion reads the version field. An object without one is the v1
// bare map.
func detectVersion(raw []byte) (int, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return 0, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	v, ok := probe["version"]
	if !ok {
		return 1, nil
	}
	var version int
	if err := json.Unmarshal(v, &version); err != nil {
		// A v1 map could in theory carry a PO literally named "version".
		return 1, nil
	}
	return version, nil
}

// upgradeV1 converts {PO: [ids]} into the versioned form.
func upgradeV1(raw json.RawMessage) (json.RawMessage, error) {
	var legacy map[string][]int64
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}
	snap := emptySnapshot()
	for po, ids := range legacy {
		po = strings.TrimSpace(po)
		if po == "" || len(ids) == 0 {
			continue
		}
		snap.Entries[po] = mergeEntry(snap.Entries[po], Entry{ServiceOrderIDs: ids})
	}
	return json.Marshal(snap)
}

var poDelimiters = []string{" ", "_", "-", "#"}

var poNoDelimiter = regexp.MustCompile(`^PO(\d[^ _\-#]*)`)

// ParsePONumber extracts the PO number from a file name such as
// "PO 123.pdf", "PO#123.pdf" or "PO123.pdf".
func ParsePONumber(name string) (string, error) {
	base := filepath.Base(name)
	if !strings.EqualFold(filepath.Ext(base), ".pdf") {
		return "", fmt.Errorf("%q is not a PDF", base)
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.ReplaceAll(stem, " - ", "-")

	for _, d := range poDelimiters {
		rest, ok := strings.CutPrefix(stem, "PO"+d)
		if !ok {
			continue
		}
		rest = strings.TrimLeft(rest, d)
		po, _, _ := strings.Cut(rest, d)
		po = strings.TrimSpace(po)
		if po == "" {
			break
		}
		return po, nil
	}
	if m := poNoDelimiter.FindStringSubmatch(stem); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%q has no PO prefix", base)
}
