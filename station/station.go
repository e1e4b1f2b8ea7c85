// Copyright 2025 The ChapaUY Authors
// SPDX-License-Identifier: Apache-2.0

// Package station holds the station corpus: name-bearing station records
// and the groups they belong to.
package station

import (
	"fmt"
	"slices"

	"github.com/jcodagnone/statsimi/spatial"
	"github.com/rotisserie/eris"
)

// SrcType tells where a station name came from.
type SrcType uint8

const (
	// SrcAttr is a name attribute of the station node itself.
	SrcAttr SrcType = iota + 1
	// SrcGroup is a synonym inherited from the enclosing group.
	SrcGroup
)

func (s SrcType) String() string {
	switch s {
	case SrcAttr:
		return "attr"
	case SrcGroup:
		return "group"
	default:
		return "unknown"
	}
}

const (
	// SyntheticRelID is the relation id given to orphan groups that absorbed
	// another group.
	SyntheticRelID int64 = -1
)

// AltNameAttr is the attribute of alternative names.
const AltNameAttr = "alt_name"

// Station is a single (node, name) record.
type Station struct {
	NodeID      int64
	Name        string
	Geom        spatial.Geometry
	GroupID     int
	OrigGroupID int
	Src         SrcType
	NameAttr    string
	OrigName    string
}

// Point returns the station location, the centroid for polygons.
func (s *Station) Point() spatial.Point {
	return s.Geom.Centroid()
}

// IsAltName reports whether the name comes from an alternative name tag.
func (s *Station) IsAltName() bool {
	return s.NameAttr == AltNameAttr
}

func (s *Station) String() string {
	p := s.Point()

	return fmt.Sprintf("%q (nid=%d) @ (%f, %f)", s.Name, s.NodeID, p.Lat, p.Lng)
}

// NamePair is a (name, attribute) pair from group metadata.
type NamePair struct {
	Name string `json:"name"`
	Attr string `json:"attr"`
}

// Group is a set of stations believed to denote the same real-world stop.
// A zero RelID means the group had no external relation (an orphan).
type Group struct {
	Stations []int
	RelID    int64
	MetaID   int64
	Names    []NamePair
}

// IsOrphan reports whether the group lacks an external relation.
func (g *Group) IsOrphan() bool {
	return g.RelID == 0
}

// HasMeta reports whether the group is part of a meta group.
func (g *Group) HasMeta() bool {
	return g.MetaID != 0
}

// HasName reports whether name is one of the group's metadata names.
func (g *Group) HasName(name string) bool {
	return slices.ContainsFunc(g.Names, func(p NamePair) bool { return p.Name == name })
}

func (g *Group) remove(sid int) {
	if i := slices.Index(g.Stations, sid); i >= 0 {
		g.Stations = slices.Delete(g.Stations, i, i+1)
	}
}

// Corpus is the arena of stations and groups. Groups are never deleted,
// only emptied, so group ids stay stable.
type Corpus struct {
	Stations []Station
	Groups   []Group
	BBox     spatial.BBox
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{BBox: spatial.EmptyBBox()}
}

// AddGroup appends an empty group and returns its id.
func (c *Corpus) AddGroup(relID, metaID int64, names []NamePair) int {
	c.Groups = append(c.Groups, Group{RelID: relID, MetaID: metaID, Names: names})

	return len(c.Groups) - 1
}

// AddStation appends s to the corpus and to the membership of s.GroupID.
func (c *Corpus) AddStation(s Station) int {
	if s.GroupID < 0 || s.GroupID >= len(c.Groups) {
		panic(fmt.Sprintf("station: group %d out of range", s.GroupID))
	}

	sid := len(c.Stations)
	s.OrigGroupID = s.GroupID

	c.Stations = append(c.Stations, s)
	c.Groups[s.GroupID].Stations = append(c.Groups[s.GroupID].Stations, sid)

	for _, p := range s.Geom.Vertices() {
		c.BBox.Extend(p)
	}

	return sid
}

// Station returns the station with id sid.
func (c *Corpus) Station(sid int) *Station {
	return &c.Stations[sid]
}

// Group returns the group with id gid.
func (c *Corpus) Group(gid int) *Group {
	return &c.Groups[gid]
}

// GroupOf returns the group the station currently belongs to.
func (c *Corpus) GroupOf(sid int) *Group {
	return &c.Groups[c.Stations[sid].GroupID]
}

// IsSingletonOrphan reports whether gid holds exactly one station and no
// external relation.
func (c *Corpus) IsSingletonOrphan(gid int) bool {
	g := &c.Groups[gid]

	return len(g.Stations) == 1 && g.IsOrphan()
}

// Evict moves the station into a new singleton orphan group and returns
// the new group id.
func (c *Corpus) Evict(sid int) int {
	st := &c.Stations[sid]
	c.Groups[st.GroupID].remove(sid)
	c.Groups = append(c.Groups, Group{Stations: []int{sid}})
	st.GroupID = len(c.Groups) - 1

	return st.GroupID
}

// Merge joins two groups and returns the surviving (master) and emptied
// (minor) group ids. The first argument is the master unless the second is
// part of a meta group the first is not, or the first is not a meta-group
// member and has fewer stations. An orphan master receives SyntheticRelID.
func (c *Corpus) Merge(a, b int) (int, int) {
	if a == b {
		panic(fmt.Sprintf("station: merge of group %d with itself", a))
	}

	master, minor := a, b
	ga, gb := &c.Groups[a], &c.Groups[b]

	minorInMeta := gb.HasMeta() && !ga.HasMeta()
	masterInMeta := ga.HasMeta() && !gb.HasMeta()

	if minorInMeta || (!masterInMeta && len(ga.Stations) < len(gb.Stations)) {
		master, minor = b, a
	}

	gm, gn := &c.Groups[master], &c.Groups[minor]
	for _, sid := range gn.Stations {
		c.Stations[sid].GroupID = master
		gm.Stations = append(gm.Stations, sid)
	}

	gn.Stations = nil

	if gm.IsOrphan() {
		gm.RelID = SyntheticRelID
	}

	return master, minor
}

// Check verifies that group membership and station group ids agree.
func (c *Corpus) Check() error {
	seen := make([]int, len(c.Stations))

	for gid := range c.Groups {
		for _, sid := range c.Groups[gid].Stations {
			if sid < 0 || sid >= len(c.Stations) {
				return eris.Errorf("station: group %d lists unknown station %d", gid, sid)
			}

			if c.Stations[sid].GroupID != gid {
				return eris.Errorf("station: station %d listed in group %d but points to %d",
					sid, gid, c.Stations[sid].GroupID)
			}

			seen[sid]++
		}
	}

	for sid, n := range seen {
		if n != 1 {
			return eris.Errorf("station: station %d listed %d times", sid, n)
		}
	}

	return nil
}

// Clone returns a deep copy of the corpus.
func (c *Corpus) Clone() *Corpus {
	out := &Corpus{
		Stations: slices.Clone(c.Stations),
		Groups:   make([]Group, len(c.Groups)),
		BBox:     c.BBox,
	}

	for i, g := range c.Groups {
		g.Stations = slices.Clone(g.Stations)
		g.Names = slices.Clone(g.Names)
		out.Groups[i] = g
	}

	return out
}
