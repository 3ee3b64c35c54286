// Package catalog holds the round content: per (difficulty, round) the
// target rectangles, canvas dimension, image reference, and the mutable
// found-status bitmap used for answer arbitration.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxRounds is used for difficulties with no on-disk content.
const DefaultMaxRounds = 3

type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

type Dimension struct {
	W int `json:"w"`
	H int `json:"h"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type roundKey struct {
	difficulty string
	round      int
}

// round is one loaded definition. found is the only mutable part and is
// guarded by mu; the claim in CheckAnswer must be a single read-modify-write.
type round struct {
	imagePath string
	rects     []Rect
	dim       Dimension

	mu    sync.Mutex
	found []bool
}

type Catalog struct {
	dir string
	log *zap.Logger

	mu        sync.RWMutex
	rounds    map[roundKey]*round
	maxRounds map[string]int
}

// New scans dir for round files named "<difficulty>_<round>.txt". Definitions
// are parsed lazily on first LoadRound; only the key set is built here. An
// unreadable dir is a startup failure. dir may be empty, in which case every
// difficulty serves built-in default rounds.
func New(dir string, log *zap.Logger) (*Catalog, error) {
	c := &Catalog{
		dir:       dir,
		log:       log,
		rounds:    make(map[roundKey]*round),
		maxRounds: make(map[string]int),
	}
	if dir == "" {
		return c, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read round dir: %w", err)
	}
	for _, e := range entries {
		difficulty, n, ok := parseRoundName(e.Name())
		if !ok {
			continue
		}
		if n > c.maxRounds[difficulty] {
			c.maxRounds[difficulty] = n
		}
	}
	log.Info("round catalog scanned",
		zap.String("dir", dir),
		zap.Int("difficulties", len(c.maxRounds)))
	return c, nil
}

func parseRoundName(name string) (difficulty string, round int, ok bool) {
	base, isTxt := strings.CutSuffix(name, ".txt")
	if !isTxt {
		return "", 0, false
	}
	i := strings.LastIndexByte(base, '_')
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(base[i+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return base[:i], n, true
}

// LoadRound ensures a definition exists for the key and resets its
// found-status bitmap. It never fails: when neither cache nor disk can
// produce a definition, a built-in default round is substituted.
func (c *Catalog) LoadRound(difficulty string, roundNum int) {
	r := c.get(difficulty, roundNum)
	if r == nil {
		r = c.load(difficulty, roundNum)
	}
	r.mu.Lock()
	r.found = make([]bool, len(r.rects))
	r.mu.Unlock()
}

func (c *Catalog) get(difficulty string, roundNum int) *round {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rounds[roundKey{difficulty, roundNum}]
}

func (c *Catalog) load(difficulty string, roundNum int) *round {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := roundKey{difficulty, roundNum}
	if r := c.rounds[key]; r != nil {
		return r
	}

	r, err := c.parseFile(difficulty, roundNum)
	if err != nil {
		c.log.Warn("round definition unavailable, using default",
			zap.String("difficulty", difficulty),
			zap.Int("round", roundNum),
			zap.Error(err))
		r = defaultRound()
	}
	c.rounds[key] = r
	return r
}

// parseFile reads "<difficulty>_<round>.txt": first line is "width,height",
// each following non-empty line is "x,y,w,h". The image reference is the
// sibling png with the same base name.
func (c *Catalog) parseFile(difficulty string, roundNum int) (*round, error) {
	if c.dir == "" {
		return nil, fmt.Errorf("no round dir configured")
	}
	base := fmt.Sprintf("%s_%d", difficulty, roundNum)
	data, err := os.ReadFile(filepath.Join(c.dir, base+".txt"))
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty round file")
	}
	dims, err := parseInts(lines[0], 2)
	if err != nil {
		return nil, fmt.Errorf("line 1: %w", err)
	}

	r := &round{
		imagePath: base + ".png",
		dim:       Dimension{W: dims[0], H: dims[1]},
	}
	for i, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		vals, err := parseInts(line, 4)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		r.rects = append(r.rects, Rect{X: vals[0], Y: vals[1], W: vals[2], H: vals[3]})
	}
	if len(r.rects) == 0 {
		return nil, fmt.Errorf("round file has no rectangles")
	}
	r.found = make([]bool, len(r.rects))
	return r, nil
}

func parseInts(line string, want int) ([]int, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != want {
		return nil, fmt.Errorf("want %d comma-separated values, got %d", want, len(parts))
	}
	out := make([]int, want)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func defaultRound() *round {
	r := &round{
		imagePath: "default.png",
		dim:       Dimension{W: 1100, H: 700},
	}
	for i := 0; i < 17; i++ {
		r.rects = append(r.rects, Rect{
			X: (i%6)*180 + 20,
			Y: (i/6)*220 + 30,
			W: 90,
			H: 70,
		})
	}
	r.found = make([]bool, len(r.rects))
	return r
}

// mustGet falls back to loading so getters work even before LoadRound;
// callers in normal flow always LoadRound first.
func (c *Catalog) mustGet(difficulty string, roundNum int) *round {
	if r := c.get(difficulty, roundNum); r != nil {
		return r
	}
	return c.load(difficulty, roundNum)
}

// CheckAnswer claims the answer slot at index. It returns true exactly once
// per slot per loaded round; concurrent callers racing on one slot get at
// most one true. Out-of-range indices return false.
func (c *Catalog) CheckAnswer(difficulty string, roundNum, index int) bool {
	r := c.mustGet(difficulty, roundNum)
	r.mu.Lock()
	defer r.mu.Unlock()
	if index < 0 || index >= len(r.found) || r.found[index] {
		return false
	}
	r.found[index] = true
	return true
}

// AreAllFound reports whether every answer slot has been claimed.
func (c *Catalog) AreAllFound(difficulty string, roundNum int) bool {
	r := c.mustGet(difficulty, roundNum)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.found {
		if !f {
			return false
		}
	}
	return true
}

func (c *Catalog) Rects(difficulty string, roundNum int) []Rect {
	return c.mustGet(difficulty, roundNum).rects
}

func (c *Catalog) AnswerCenter(difficulty string, roundNum, index int) (Point, bool) {
	r := c.mustGet(difficulty, roundNum)
	if index < 0 || index >= len(r.rects) {
		return Point{}, false
	}
	rect := r.rects[index]
	return Point{X: rect.X + rect.W/2, Y: rect.Y + rect.H/2}, true
}

func (c *Catalog) ImagePath(difficulty string, roundNum int) string {
	return c.mustGet(difficulty, roundNum).imagePath
}

func (c *Catalog) OriginalDimension(difficulty string, roundNum int) Dimension {
	return c.mustGet(difficulty, roundNum).dim
}

func (c *Catalog) MaxRounds(difficulty string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n := c.maxRounds[difficulty]; n > 0 {
		return n
	}
	return DefaultMaxRounds
}

func (c *Catalog) HasNextRound(difficulty string, current int) bool {
	return current < c.MaxRounds(difficulty)
}
