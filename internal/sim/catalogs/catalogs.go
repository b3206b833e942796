package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"cluetracker.ai/internal/sim/tracking/model"
)

// Catalogs is the static, read-only lookup of known content.
type Catalogs struct {
	Contents ContentCatalog
}

type ContentCatalog struct {
	ByID   map[model.ContentID]ContentDef
	ByType map[model.TypeID][]model.ContentID
	Types  []model.TypeID
	Digest string
}

type ContentDef struct {
	ID           model.ContentID `json:"id"`
	ObjectTypeID model.TypeID    `json:"object_type_id"`
	Tier         string          `json:"tier"`
	Text         string          `json:"text"`
	// Steps lists the content ids of a multi-step item in order.
	Steps []model.ContentID `json:"steps,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadContents(filepath.Join(configDir, "contents.json"), &c.Contents); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadContents(path string, out *ContentCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []ContentDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("contents.json: %w", err)
	}
	return out.build(defs, sha256Hex(raw))
}

// NewContentCatalog builds a catalog from in-memory definitions.
func NewContentCatalog(defs []ContentDef) (ContentCatalog, error) {
	var c ContentCatalog
	b, _ := json.Marshal(defs)
	err := c.build(defs, sha256Hex(b))
	return c, err
}

func (c *ContentCatalog) build(defs []ContentDef, digest string) error {
	c.ByID = make(map[model.ContentID]ContentDef, len(defs))
	c.ByType = map[model.TypeID][]model.ContentID{}
	for _, d := range defs {
		if d.ID == 0 {
			return fmt.Errorf("contents.json: empty id")
		}
		if d.ObjectTypeID == 0 {
			return fmt.Errorf("contents.json: %d: missing object_type_id", d.ID)
		}
		if _, dup := c.ByID[d.ID]; dup {
			return fmt.Errorf("contents.json: duplicate id %d", d.ID)
		}
		c.ByID[d.ID] = d
		c.ByType[d.ObjectTypeID] = append(c.ByType[d.ObjectTypeID], d.ID)
	}
	c.Types = make([]model.TypeID, 0, len(c.ByType))
	for t, ids := range c.ByType {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		c.Types = append(c.Types, t)
	}
	sort.Slice(c.Types, func(i, j int) bool { return c.Types[i] < c.Types[j] })
	c.Digest = digest
	return nil
}

func (c ContentCatalog) Lookup(id model.ContentID) (ContentDef, bool) {
	d, ok := c.ByID[id]
	return d, ok
}

// Describe joins the text of every known content id, in order.
func (c ContentCatalog) Describe(ids []model.ContentID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if d, ok := c.ByID[id]; ok {
			parts = append(parts, d.Text)
		} else {
			parts = append(parts, fmt.Sprintf("#%d", id))
		}
	}
	return strings.Join(parts, " / ")
}

type Match struct {
	Def   ContentDef
	Score int
}

// Search finds content whose text contains every query word, tolerating
// small typos. Lower scores are better.
func (c ContentCatalog) Search(query string, limit int) []Match {
	q := tokens(query)
	if len(q) == 0 {
		return nil
	}
	var out []Match
	for _, d := range c.ByID {
		words := tokens(d.Text)
		score := 0
		ok := true
		for _, qt := range q {
			best := -1
			for _, w := range words {
				dist := wordDistance(qt, w)
				if dist < 0 {
					continue
				}
				if best < 0 || dist < best {
					best = dist
				}
			}
			if best < 0 {
				ok = false
				break
			}
			score += best
		}
		if ok {
			out = append(out, Match{Def: d, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Def.ID < out[j].Def.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// wordDistance returns 0 for a prefix match, the edit distance when it is
// within the typo limit, or -1.
func wordDistance(q, w string) int {
	if strings.HasPrefix(w, q) {
		return 0
	}
	dist := levenshtein.ComputeDistance(q, w)
	if dist > levenshteinLimit(len(w)) {
		return -1
	}
	return dist
}

func levenshteinLimit(length int) int {
	switch {
	case length <= 4:
		return 1
	case length <= 8:
		return 2
	default:
		return 3
	}
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
