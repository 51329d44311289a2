package remote

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/akarpov87/catsync/internal/model"
)

// itemEnvelope is the part of every item payload the sync engine needs
// structurally; the rest of the payload is carried opaque in Attributes.
type itemEnvelope struct {
	ID           string    `json:"id"`
	UpdatedAt    time.Time `json:"updated_at"`
	Fingerprints []struct {
		Value string `json:"value"`
	} `json:"fingerprints"`
	Parents []struct {
		ID string `json:"id"`
	} `json:"parents"`
}

func decodePage(t model.EntityType, raw json.RawMessage) (Page, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Page{}, fmt.Errorf("decode %s payload: %w", t, err)
	}

	var total int
	if c, ok := payload["count"]; ok {
		if err := json.Unmarshal(c, &total); err != nil {
			return Page{}, fmt.Errorf("decode %s count: %w", t, err)
		}
	}

	var items []json.RawMessage
	if rawItems, ok := payload[t.ResultField()]; ok {
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return Page{}, fmt.Errorf("decode %s items: %w", t, err)
		}
	}

	page := Page{Total: total, Items: make([]model.Entity, 0, len(items))}
	for i, item := range items {
		ent, err := toEntity(t, item)
		if err != nil {
			return Page{}, fmt.Errorf("%s item %d: %w", t, i, err)
		}
		page.Items = append(page.Items, ent)
	}
	return page, nil
}

func decodeIDPage(t model.EntityType, raw json.RawMessage) (IDPage, error) {
	var payload struct {
		Count int             `json:"count"`
		Items json.RawMessage `json:"-"`
	}
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return IDPage{}, fmt.Errorf("decode %s id payload: %w", t, err)
	}
	if c, ok := generic["count"]; ok {
		if err := json.Unmarshal(c, &payload.Count); err != nil {
			return IDPage{}, fmt.Errorf("decode %s count: %w", t, err)
		}
	}

	out := IDPage{Total: payload.Count}
	if rawItems, ok := generic[t.ResultField()]; ok {
		var items []struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(rawItems, &items); err != nil {
			return IDPage{}, fmt.Errorf("decode %s ids: %w", t, err)
		}
		out.IDs = make([]string, 0, len(items))
		for _, it := range items {
			out.IDs = append(out.IDs, it.ID)
		}
	}
	return out, nil
}

// toEntity extracts the structural envelope and keeps the full item payload
// as opaque attributes.
func toEntity(t model.EntityType, raw json.RawMessage) (model.Entity, error) {
	var env itemEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Entity{}, err
	}
	if env.ID == "" {
		return model.Entity{}, fmt.Errorf("item missing id")
	}

	ent := model.Entity{
		Type:       t,
		RemoteID:   env.ID,
		Attributes: raw,
		UpdatedAt:  env.UpdatedAt,
	}
	for _, fp := range env.Fingerprints {
		if fp.Value != "" {
			ent.Fingerprints = append(ent.Fingerprints, fp.Value)
		}
	}
	for _, p := range env.Parents {
		if p.ID != "" {
			ent.ParentIDs = append(ent.ParentIDs, p.ID)
		}
	}
	return ent, nil
}
