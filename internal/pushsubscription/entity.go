package pushsubscription

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Topic is a kind of generation outcome a browser can ask to be told about.
type Topic string

const (
	TopicFailed Topic = "failed"
	TopicImages Topic = "images"
)

var ErrUnknownTopic = errors.New("unknown topic")

func ParseTopics(vs []string) ([]Topic, error) {
	topics := make([]Topic, 0, len(vs))
	for _, v := range vs {
		switch t := Topic(v); t {
		case TopicFailed, TopicImages:
			if !slices.Contains(topics, t) {
				topics = append(topics, t)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, v)
		}
	}
	return topics, nil
}

// Subscription is one push endpoint and the outcomes it wants. No topics
// means every topic; no entity ids means every entity.
type Subscription struct {
	ID        string    `yaml:"id"`
	Endpoint  string    `yaml:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key"`
	Topics    []Topic   `yaml:"topics,omitempty"`
	EntityIDs []string  `yaml:"entity_ids,omitempty"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func (s *Subscription) Wants(topic Topic, entityID string) bool {
	if len(s.Topics) > 0 && !slices.Contains(s.Topics, topic) {
		return false
	}
	if len(s.EntityIDs) > 0 && !slices.Contains(s.EntityIDs, entityID) {
		return false
	}
	return true
}

// IDForEndpoint is the stable id of the subscription for endpoint, so one
// browser endpoint maps to exactly one stored subscription.
func IDForEndpoint(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return hex.EncodeToString(sum[:16])
}
