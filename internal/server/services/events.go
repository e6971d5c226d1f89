// Package services implements the gateway's domain operations on top of a
// repomanager.RepositoryManager.
package services

import (
	"github.com/dmitrijs2005/armadillo/internal/server/models"
)

// Publisher fans change events out to live streams.
type Publisher interface {
	Publish(ev models.ChangeEvent) (delivered, dropped int)
}

// Recorder receives domain metrics.
type Recorder interface {
	Push(outcome string)
	EventPublished(eventType string, dropped int)
}

type nopPublisher struct{}

func (nopPublisher) Publish(models.ChangeEvent) (int, int) { return 0, 0 }

type nopRecorder struct{}

func (nopRecorder) Push(string)                {}
func (nopRecorder) EventPublished(string, int) {}

func publish(p Publisher, r Recorder, ev models.ChangeEvent) {
	_, dropped := p.Publish(ev)
	r.EventPublished(ev.Type, dropped)
}
