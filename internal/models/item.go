package models

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Location is one of the three folders an item can rest in.
type Location string

const (
	LocationInbound   Location = "inbound"
	LocationProcessed Location = "processed"
	LocationFailed    Location = "failed"
)

// Stage is the in-flight progress of an item through the pipeline.
type Stage string

const (
	StageReceived   Stage = "received"
	StageClassified Stage = "classified"
	StageNormalized Stage = "normalized"
	StageUploaded   Stage = "uploaded"
	StageFinalized  Stage = "finalized"
)

// StageTransition represents a valid stage transition.
type StageTransition struct {
	From Stage
	To   Stage
}

// validTransitions lists every transition the pipeline may take. Any
// non-final stage may jump to finalized when the item is routed to Failed.
var validTransitions = map[StageTransition]bool{
	{StageReceived, StageClassified}: true,
	{StageReceived, StageFinalized}:  true,

	// Source archives are normalized, everything else goes straight to upload.
	{StageClassified, StageNormalized}: true,
	{StageClassified, StageUploaded}:   true,
	{StageClassified, StageFinalized}:  true,

	{StageNormalized, StageUploaded}:  true,
	{StageNormalized, StageFinalized}: true,

	{StageUploaded, StageFinalized}: true,
}

// ValidateTransition checks if a stage transition is valid.
func ValidateTransition(from, to Stage) error {
	if !validTransitions[StageTransition{From: from, To: to}] {
		return fmt.Errorf("invalid stage transition from %s to %s", from, to)
	}
	return nil
}

// Item is one unit of ingestion work, backed by a single file under Inbound.
type Item struct {
	ID          string
	Path        string
	Kind        ContentKind
	Stage       Stage
	Location    Location
	Destination string // final path after finalization
	Err         error  // first stage failure, nil on success
	ReceivedAt  time.Time
	FinalizedAt time.Time
}

// NewItem creates an item for a path that was just submitted.
func NewItem(path string) *Item {
	return &Item{
		ID:         uuid.New().String()[:8], // Short ID for log correlation
		Path:       path,
		Stage:      StageReceived,
		Location:   LocationInbound,
		ReceivedAt: time.Now(),
	}
}

// Name returns the item's base name, which is also its name in Processed/Failed.
func (i *Item) Name() string {
	return filepath.Base(i.Path)
}

// Advance moves the item to the next stage.
func (i *Item) Advance(to Stage) error {
	if err := ValidateTransition(i.Stage, to); err != nil {
		return err
	}
	i.Stage = to
	return nil
}

// Classified records the content kind and advances the stage.
func (i *Item) Classified(kind ContentKind) error {
	if err := i.Advance(StageClassified); err != nil {
		return err
	}
	i.Kind = kind
	return nil
}

// Fail records the first failure of the item. Later failures are ignored so
// the root cause is what gets logged.
func (i *Item) Fail(err error) {
	if i.Err == nil {
		i.Err = err
	}
}

// Finalized records where the item came to rest.
func (i *Item) Finalized(loc Location, dest string) error {
	if err := i.Advance(StageFinalized); err != nil {
		return err
	}
	i.Location = loc
	i.Destination = dest
	i.FinalizedAt = time.Now()
	return nil
}

// Succeeded reports whether the item was uploaded and moved to Processed.
func (i *Item) Succeeded() bool {
	return i.Stage == StageFinalized && i.Location == LocationProcessed && i.Err == nil
}
