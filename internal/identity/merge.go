package identity

import (
	"context"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-identity/internal/model"
	registrystore "github.com/chirino/conversation-identity/internal/registry/store"
	"github.com/chirino/conversation-identity/internal/security"
)

// DefaultMergeWindow is how many of the most recent messages of each side a
// merge reads.
const DefaultMergeWindow = 50

// MergeResult summarizes one merge.
type MergeResult struct {
	// Messages is the length of the target log written by the merge.
	Messages   int
	Duplicates int
	Malformed  int
	// MetadataFilled counts keys copied from source into the target metadata.
	MetadataFilled int
	// Skipped is true when the source equals the target.
	Skipped bool
}

// MergeEngine consolidates the history and metadata of a source conversation
// into a target conversation and clears the source.
type MergeEngine struct {
	conversations registrystore.ConversationStore
	metadata      registrystore.MetadataStore
	window        int
}

// NewMergeEngine returns an engine reading at most window messages per side
// (DefaultMergeWindow when window <= 0).
func NewMergeEngine(conversations registrystore.ConversationStore, metadata registrystore.MetadataStore, window int) *MergeEngine {
	if window <= 0 {
		window = DefaultMergeWindow
	}
	return &MergeEngine{conversations: conversations, metadata: metadata, window: window}
}

// Merge moves source's messages and metadata onto target. The merged log is
// written whole, so it may be longer than the append-time bound.
func (e *MergeEngine) Merge(ctx context.Context, sourceID, targetID string) (MergeResult, error) {
	if sourceID == targetID {
		return MergeResult{Skipped: true}, nil
	}
	var res MergeResult

	sourceMsgs, err := e.conversations.ListMessages(ctx, sourceID, e.window)
	if err != nil {
		return res, unavailable("list messages", sourceID, err)
	}
	targetMsgs, err := e.conversations.ListMessages(ctx, targetID, e.window)
	if err != nil {
		return res, unavailable("list messages", targetID, err)
	}

	if len(sourceMsgs) > 0 || len(targetMsgs) > 0 {
		merged, duplicates, malformed := mergeMessages(targetMsgs, sourceMsgs)
		res.Messages, res.Duplicates, res.Malformed = len(merged), duplicates, malformed
		if malformed > 0 {
			log.Warn("Skipped malformed messages during merge", "source", sourceID, "target", targetID, "count", malformed)
			security.RecordMalformed(malformed)
		}
		if err := e.conversations.ReplaceMessages(ctx, targetID, merged); err != nil {
			return res, unavailable("replace messages", targetID, err)
		}
		security.RecordMerge(len(merged))

		filled, err := e.mergeMetadata(ctx, sourceID, targetID)
		if err != nil {
			return res, err
		}
		res.MetadataFilled = filled
	}

	if err := e.conversations.ClearMessages(ctx, sourceID); err != nil {
		return res, unavailable("clear messages", sourceID, err)
	}
	if err := e.metadata.ForgetMetadata(ctx, sourceID); err != nil {
		return res, unavailable("forget metadata", sourceID, err)
	}
	return res, nil
}

// mergeMessages orders target ++ source by timestamp, keeping target entries
// first on ties, and drops repeated (timestamp, role, content) entries.
func mergeMessages(target, source []model.Message) (merged []model.Message, duplicates, malformed int) {
	all := make([]model.Message, 0, len(target)+len(source))
	for _, side := range [][]model.Message{target, source} {
		for _, m := range side {
			if m.Validate() != nil {
				malformed++
				continue
			}
			all = append(all, m)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Before(all[j]) })

	seen := make(map[string]struct{}, len(all))
	merged = all[:0]
	for _, m := range all {
		k := m.DedupKey()
		if _, dup := seen[k]; dup {
			duplicates++
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, m)
	}
	return merged, duplicates, malformed
}

func (e *MergeEngine) mergeMetadata(ctx context.Context, sourceID, targetID string) (int, error) {
	source, err := e.metadata.GetMetadata(ctx, sourceID)
	if err != nil {
		return 0, unavailable("get metadata", sourceID, err)
	}
	if len(source) == 0 {
		return 0, nil
	}
	target, err := e.metadata.GetMetadata(ctx, targetID)
	if err != nil {
		return 0, unavailable("get metadata", targetID, err)
	}
	merged, filled := MergeMetadata(target, source)
	if filled == 0 {
		return 0, nil
	}
	if err := e.metadata.SetMetadata(ctx, targetID, merged); err != nil {
		return 0, unavailable("set metadata", targetID, err)
	}
	return filled, nil
}

// MergeMetadata returns target with every key that is missing or empty there
// filled from source, and the number of keys filled.
func MergeMetadata(target, source model.Metadata) (model.Metadata, int) {
	out := make(model.Metadata, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	filled := 0
	for k, v := range source {
		if out[k] == "" && v != "" {
			out[k] = v
			filled++
		}
	}
	return out, filled
}
