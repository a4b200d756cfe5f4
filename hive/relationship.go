package hive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Relationship is the follow state one account holds toward another.
type Relationship int

const (
	// Unfollow clears any follow or mute.
	Unfollow Relationship = iota
	Follow
	Mute
)

// ErrUnknownRelationship is returned for values outside the enum.
var ErrUnknownRelationship = errors.New("unknown relationship")

func (r Relationship) String() string {
	switch r {
	case Unfollow:
		return "unfollow"
	case Follow:
		return "follow"
	case Mute:
		return "mute"
	default:
		return "unknown"
	}
}

// ParseRelationship parses the String form of a Relationship.
func ParseRelationship(s string) (Relationship, error) {
	switch s {
	case "unfollow":
		return Unfollow, nil
	case "follow":
		return Follow, nil
	case "mute":
		return Mute, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRelationship, s)
	}
}

// what is the follow plugin's encoding of the relationship.
func (r Relationship) what() ([]string, error) {
	switch r {
	case Unfollow:
		return []string{}, nil
	case Follow:
		return []string{"blog"}, nil
	case Mute:
		return []string{"ignore"}, nil
	default:
		return nil, ErrUnknownRelationship
	}
}

// CustomJSON is a custom_json operation authorised by posting keys.
type CustomJSON struct {
	ID                   string
	RequiredPostingAuths []string
	JSON                 string
}

// FollowOperation builds the follow plugin custom_json for follower → target.
func FollowOperation(follower, target string, rel Relationship) (CustomJSON, error) {
	what, err := rel.what()
	if err != nil {
		return CustomJSON{}, err
	}
	if follower == "" || target == "" {
		return CustomJSON{}, errors.New("follower and target are required")
	}
	payload, err := json.Marshal([]any{"follow", map[string]any{
		"follower":  follower,
		"following": target,
		"what":      what,
	}})
	if err != nil {
		return CustomJSON{}, err
	}
	return CustomJSON{
		ID:                   "follow",
		RequiredPostingAuths: []string{follower},
		JSON:                 string(payload),
	}, nil
}

// Broadcaster signs and submits operations. wif is valid only for the
// duration of the call and must not be retained.
type Broadcaster interface {
	BroadcastCustomJSON(ctx context.Context, op CustomJSON, wif string) error
}

// DryRunBroadcaster logs operations without signing or submitting them.
type DryRunBroadcaster struct {
	Logger *slog.Logger
}

func (d DryRunBroadcaster) BroadcastCustomJSON(ctx context.Context, op CustomJSON, wif string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := ParseWIF(wif)
	if err != nil {
		return err
	}
	key.Zero()
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("dry-run broadcast",
		slog.String("component", "hive"),
		slog.String("id", op.ID),
		slog.Any("required_posting_auths", op.RequiredPostingAuths),
		slog.String("json", op.JSON),
	)
	return nil
}
