package models

import (
	"time"
)

// StoryMode selects how chapters of a saga are produced.
type StoryMode string

const (
	// ModePlayer: the reader submits decisions that are evaluated, outlined and narrated.
	ModePlayer StoryMode = "player"
	// ModeStorywriter: the author dictates the direction of each chapter.
	ModeStorywriter StoryMode = "storywriter"
)

// Valid reports whether m is one of the known modes.
func (m StoryMode) Valid() bool {
	return m == ModePlayer || m == ModeStorywriter
}

// NodeStatus is the lifecycle state of a story node.
type NodeStatus string

const (
	StatusActive NodeStatus = "active"
	StatusEnded  NodeStatus = "ended"
	StatusUnsafe NodeStatus = "unsafe"
)

// Terminal reports whether a node with this status can no longer be continued.
func (s NodeStatus) Terminal() bool {
	return s == StatusEnded || s == StatusUnsafe
}

const (
	DefaultTotalChapters = 100
	MaxTotalChapters     = 1000
)

// Saga is the immutable setting of one story.
type Saga struct {
	ID               string    `gorm:"primaryKey;size:64" bson:"_id" json:"id"`
	UserID           string    `gorm:"index;size:64" bson:"userId" json:"userId"`
	Title            string    `gorm:"size:255" bson:"title" json:"title"`
	WorldName        string    `gorm:"size:255" bson:"worldName" json:"worldName"`
	WorldDescription string    `gorm:"type:text" bson:"worldDescription" json:"worldDescription"`
	MoodAndTropes    string    `gorm:"type:text" bson:"moodAndTropes" json:"moodAndTropes"`
	Premise          string    `gorm:"type:text" bson:"premise" json:"premise"`
	AdvancedOptions  string    `gorm:"type:text" bson:"advancedOptions,omitempty" json:"advancedOptions,omitempty"`
	TotalChapters    int       `bson:"totalChapters" json:"totalChapters"`
	StoryMode        StoryMode `gorm:"size:16" bson:"storyMode,omitempty" json:"storyMode,omitempty"`
	CreatedAt        time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// SagaPatch carries the mutable saga fields; nil leaves a field unchanged.
type SagaPatch struct {
	Title            *string
	WorldName        *string
	WorldDescription *string
	MoodAndTropes    *string
	Premise          *string
	AdvancedOptions  *string
	TotalChapters    *int
	StoryMode        *StoryMode
}

// Apply copies the set fields onto s.
func (p SagaPatch) Apply(s *Saga) {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.WorldName != nil {
		s.WorldName = *p.WorldName
	}
	if p.WorldDescription != nil {
		s.WorldDescription = *p.WorldDescription
	}
	if p.MoodAndTropes != nil {
		s.MoodAndTropes = *p.MoodAndTropes
	}
	if p.Premise != nil {
		s.Premise = *p.Premise
	}
	if p.AdvancedOptions != nil {
		s.AdvancedOptions = *p.AdvancedOptions
	}
	if p.TotalChapters != nil {
		s.TotalChapters = *p.TotalChapters
	}
	if p.StoryMode != nil {
		s.StoryMode = *p.StoryMode
	}
}

// Beat is one numbered scene beat of a chapter outline.
type Beat struct {
	Beat        int    `bson:"beat" json:"beat"`
	Description string `bson:"description" json:"description"`
}

// ChapterOutline is the structured plan produced before a player-mode chapter is narrated.
type ChapterOutline struct {
	Goals    []string `bson:"goals" json:"goals"`
	Beats    []Beat   `bson:"beats" json:"beats"`
	Synopsis string   `bson:"synopsis" json:"synopsis"`
}

// StoryNode is one chapter in the branching timeline of a saga.
type StoryNode struct {
	ID             string          `gorm:"primaryKey;size:64" bson:"_id" json:"id"`
	SagaID         string          `gorm:"index;size:64" bson:"sagaId" json:"sagaId"`
	UserID         string          `gorm:"index;size:64" bson:"userId" json:"userId"`
	ParentID       *string         `gorm:"index;size:64" bson:"parentId" json:"parentId"`
	UserDecision   string          `gorm:"type:text" bson:"userDecision,omitempty" json:"userDecision,omitempty"`
	StoryDirection string          `gorm:"type:text" bson:"storyDirection,omitempty" json:"storyDirection,omitempty"`
	Summary        string          `gorm:"type:text" bson:"summary" json:"summary"`
	Content        string          `gorm:"type:longtext" bson:"content" json:"content"`
	Status         NodeStatus      `gorm:"size:16" bson:"status" json:"status"`
	EndReason      string          `gorm:"type:text" bson:"endReason,omitempty" json:"endReason,omitempty"`
	ChapterNumber  int             `bson:"chapterNumber" json:"chapterNumber"`
	Outline        *ChapterOutline `gorm:"serializer:json" bson:"outline,omitempty" json:"outline,omitempty"`
	CreatedAt      time.Time       `bson:"createdAt" json:"createdAt"`
}

// IsRoot reports whether the node starts a branch of the forest.
func (n *StoryNode) IsRoot() bool {
	return n.ParentID == nil
}

// ParentKey returns the parent id or "" for roots.
func (n *StoryNode) ParentKey() string {
	if n.ParentID == nil {
		return ""
	}
	return *n.ParentID
}

// Clone returns a deep copy of the node.
func (n *StoryNode) Clone() *StoryNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.ParentID != nil {
		p := *n.ParentID
		c.ParentID = &p
	}
	if n.Outline != nil {
		o := *n.Outline
		o.Goals = append([]string(nil), n.Outline.Goals...)
		o.Beats = append([]Beat(nil), n.Outline.Beats...)
		c.Outline = &o
	}
	return &c
}

// NodePatch carries the fields regeneration may rewrite in place.
type NodePatch struct {
	Content *string
	Summary *string
	// Outline is applied when SetOutline is true so it can also be cleared.
	Outline    *ChapterOutline
	SetOutline bool
}

// Apply copies the set fields onto n.
func (p NodePatch) Apply(n *StoryNode) {
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.SetOutline {
		n.Outline = p.Outline
	}
}

// Scope restricts store operations to one saga and, when UserID is set, one owner.
type Scope struct {
	SagaID string
	UserID string
}

// Owns reports whether n falls inside the scope.
func (s Scope) Owns(n *StoryNode) bool {
	if n == nil || n.SagaID != s.SagaID {
		return false
	}
	return s.UserID == "" || n.UserID == s.UserID
}

// StringPtr is a small helper for optional id fields.
func StringPtr(s string) *string {
	return &s
}
