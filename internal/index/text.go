package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/scrypster/entityindex/internal/keywords"
	"github.com/scrypster/entityindex/pkg/types"
)

// staticFields returns the fields whose change makes an entity "different"
// for indexing purposes.
func staticFields(e types.Entity) map[string]any {
	switch v := e.(type) {
	case *types.Device:
		return map[string]any{
			"id":           v.ID,
			"name":         v.Name,
			"description":  v.Description,
			"model":        v.Model,
			"deviceTypeId": v.DeviceTypeID,
			"pluginId":     v.PluginID,
			"address":      v.Address,
			"protocol":     v.Protocol,
		}
	case *types.Variable:
		return map[string]any{
			"id":          v.ID,
			"name":        v.Name,
			"description": v.Description,
			"folderId":    v.FolderID,
		}
	case *types.Action:
		return map[string]any{
			"id":          v.ID,
			"name":        v.Name,
			"description": v.Description,
			"folderId":    v.FolderID,
		}
	}
	return map[string]any{"id": e.EntityID(), "name": e.EntityName()}
}

// embeddingFields returns the fields that are serialized into the embedded
// text.
func embeddingFields(e types.Entity) map[string]any {
	switch v := e.(type) {
	case *types.Device:
		return map[string]any{
			"name":         v.Name,
			"description":  v.Description,
			"model":        v.Model,
			"deviceTypeId": v.DeviceTypeID,
			"address":      v.Address,
		}
	case *types.Variable:
		return map[string]any{"name": v.Name, "description": v.Description}
	case *types.Action:
		return map[string]any{"name": v.Name, "description": v.Description}
	}
	return map[string]any{"name": e.EntityName()}
}

// ContentHash digests the static fields of e together with its semantic
// keywords. encoding/json sorts map keys, so equal input always produces
// the same hash.
func ContentHash(e types.Entity) string {
	fields := staticFields(e)
	fields["keywords"] = keywords.Generate(e)
	b, _ := json.Marshal(fields)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EmbeddingText is the exact string sent to the embedding provider for e:
// the canonical JSON of its embedding fields followed by its keywords.
func EmbeddingText(e types.Entity) string {
	b, _ := json.Marshal(embeddingFields(e))
	text := string(b)
	if kw := keywords.Generate(e); len(kw) > 0 {
		text += " " + strings.Join(kw, " ")
	}
	return text
}
