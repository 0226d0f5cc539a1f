package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tailmesh/browsersync/internal/event"
)

// project applies one envelope's payload to the materialized tables,
// following the per-family rules for each event type. It must run inside
// the same transaction as the envelope's persistence and clock advance: a
// failure here rolls back all three together. self is this store's own
// device identity, needed to route TabSent payloads.
func project(tx *sql.Tx, env event.Envelope, self string) error {
	switch payload := env.Event.(type) {
	case event.ExtensionAdded:
		return applyIfWinning(tx, "extension:"+payload.ID, env, func() error {
			return upsertExtension(tx, payload.ID, payload.Name, payload.URL, "", nil, nil)
		})
	case event.ExtensionInstalled:
		sourceJSON, err := json.Marshal(payload.Source)
		if err != nil {
			return fmt.Errorf("marshal extension source: %w", err)
		}
		return applyIfWinning(tx, "extension:"+payload.ID, env, func() error {
			return upsertExtension(tx, payload.ID, payload.Name, nil, payload.Version, sourceJSON, []byte(payload.XPIData))
		})
	case event.ExtensionRemoved:
		return applyIfWinning(tx, "extension:"+payload.ID, env, func() error {
			return deleteExtension(tx, payload.ID)
		})
	case event.ExtensionUninstalled:
		return applyIfWinning(tx, "extension:"+payload.ID, env, func() error {
			return deleteExtension(tx, payload.ID)
		})

	case event.ContainerAdded:
		if err := validateContainerColor(payload.Color); err != nil {
			return err
		}
		if err := validateContainerIcon(payload.Icon); err != nil {
			return err
		}
		return applyIfWinning(tx, "container:"+payload.ID, env, func() error {
			_, err := tx.Exec(`
				INSERT INTO containers (id, name, color, icon) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color, icon = excluded.icon
			`, payload.ID, payload.Name, payload.Color, payload.Icon)
			return err
		})
	case event.ContainerUpdated:
		return applyIfWinning(tx, "container:"+payload.ID, env, func() error {
			return updateContainer(tx, payload)
		})
	case event.ContainerRemoved:
		return applyIfWinning(tx, "container:"+payload.ID, env, func() error {
			_, err := tx.Exec("DELETE FROM containers WHERE id = ?", payload.ID)
			return err
		})

	case event.HandlerSet:
		return applyIfWinning(tx, "handler:"+payload.Protocol, env, func() error {
			_, err := tx.Exec(`
				INSERT INTO handlers (protocol, handler) VALUES (?, ?)
				ON CONFLICT(protocol) DO UPDATE SET handler = excluded.handler
			`, payload.Protocol, payload.Handler)
			return err
		})
	case event.HandlerRemoved:
		return applyIfWinning(tx, "handler:"+payload.Protocol, env, func() error {
			_, err := tx.Exec("DELETE FROM handlers WHERE protocol = ?", payload.Protocol)
			return err
		})

	case event.SearchEngineAdded:
		return applyIfWinning(tx, "search_engine:"+payload.ID, env, func() error {
			_, err := tx.Exec(`
				INSERT INTO search_engines (id, name, url) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url
			`, payload.ID, payload.Name, payload.URL)
			return err
		})
	case event.SearchEngineRemoved:
		return applyIfWinning(tx, "search_engine:"+payload.ID, env, func() error {
			_, err := tx.Exec("DELETE FROM search_engines WHERE id = ?", payload.ID)
			return err
		})
	case event.SearchEngineDefault:
		return applyIfWinning(tx, "search_engine_default", env, func() error {
			if _, err := tx.Exec("UPDATE search_engines SET is_default = 0"); err != nil {
				return err
			}
			_, err := tx.Exec("UPDATE search_engines SET is_default = 1 WHERE id = ?", payload.ID)
			return err
		})

	case event.PrefSet:
		return applyIfWinning(tx, "pref:"+payload.Key, env, func() error {
			return upsertPref(tx, payload)
		})
	case event.PrefRemoved:
		return applyIfWinning(tx, "pref:"+payload.Key, env, func() error {
			_, err := tx.Exec("DELETE FROM prefs WHERE key = ?", payload.Key)
			return err
		})

	case event.TabSent:
		return projectTabSent(tx, env, payload, self)
	case event.TabReceived:
		_, err := tx.Exec("DELETE FROM pending_tabs WHERE event_id = ?", payload.EventID)
		return err

	case event.Unknown:
		// Unrecognized type tags round-trip on the wire but are never
		// projected into materialized state.
		return nil
	default:
		return fmt.Errorf("no projection rule for event type %s", env.Event.Type())
	}
}

// provenanceKey is an envelope's total-order tiebreak key: lower sorts
// earlier, so a key that does not win comparison has already been
// superseded by whatever currently holds the entity.
type provenanceKey struct {
	sum uint64
	ts  string
	dev string
}

func newProvenanceKey(env event.Envelope) provenanceKey {
	return provenanceKey{sum: env.Clock.Sum(), ts: env.Timestamp, dev: env.Device}
}

// wins reports whether a sorts later than b in the deterministic replay
// order, i.e. a is the write that should be visible if both touch the
// same entity.
func (a provenanceKey) wins(b provenanceKey) bool {
	if a.sum != b.sum {
		return a.sum > b.sum
	}
	if a.ts != b.ts {
		return a.ts > b.ts
	}
	return a.dev > b.dev
}

// applyIfWinning runs apply only if env's provenance key wins against
// whatever previously wrote entityKey, then records env as the new
// provenance. This makes per-envelope incremental projection converge to
// the same result a from-scratch total-order replay would produce,
// regardless of the order concurrent writes to the same entity arrive in.
func applyIfWinning(tx *sql.Tx, entityKey string, env event.Envelope, apply func() error) error {
	existing, ok, err := loadProvenance(tx, entityKey)
	if err != nil {
		return fmt.Errorf("load provenance for %s: %w", entityKey, err)
	}
	newKey := newProvenanceKey(env)
	if ok && !newKey.wins(existing) {
		return nil
	}
	if err := apply(); err != nil {
		return err
	}
	return storeProvenance(tx, entityKey, newKey)
}

func loadProvenance(tx *sql.Tx, entityKey string) (provenanceKey, bool, error) {
	var k provenanceKey
	err := tx.QueryRow(
		"SELECT clock_sum, timestamp, device FROM projection_provenance WHERE entity_key = ?",
		entityKey,
	).Scan(&k.sum, &k.ts, &k.dev)
	if errors.Is(err, sql.ErrNoRows) {
		return provenanceKey{}, false, nil
	}
	if err != nil {
		return provenanceKey{}, false, err
	}
	return k, true, nil
}

func storeProvenance(tx *sql.Tx, entityKey string, k provenanceKey) error {
	_, err := tx.Exec(`
		INSERT INTO projection_provenance (entity_key, clock_sum, timestamp, device) VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_key) DO UPDATE SET clock_sum = excluded.clock_sum, timestamp = excluded.timestamp, device = excluded.device
	`, entityKey, k.sum, k.ts, k.dev)
	return err
}

func upsertExtension(tx *sql.Tx, id, name string, url *string, version string, sourceJSON, archive []byte) error {
	var urlVal sql.NullString
	if url != nil {
		urlVal = sql.NullString{String: *url, Valid: true}
	}
	var versionVal sql.NullString
	if version != "" {
		versionVal = sql.NullString{String: version, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO extensions (id, name, url, version, source, archive) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name    = excluded.name,
			url     = COALESCE(excluded.url, extensions.url),
			version = COALESCE(excluded.version, extensions.version),
			source  = COALESCE(excluded.source, extensions.source),
			archive = COALESCE(excluded.archive, extensions.archive)
	`, id, name, urlVal, versionVal, nullableBytes(sourceJSON), nullableBytes(archive))
	return err
}

func nullableBytes(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return b
}

func deleteExtension(tx *sql.Tx, id string) error {
	_, err := tx.Exec("DELETE FROM extensions WHERE id = ?", id)
	return err
}

// updateContainer applies only the non-nil fields of a ContainerUpdated
// payload, leaving the rest of the row untouched.
func updateContainer(tx *sql.Tx, payload event.ContainerUpdated) error {
	if payload.Color != nil {
		if err := validateContainerColor(*payload.Color); err != nil {
			return err
		}
	}
	if payload.Icon != nil {
		if err := validateContainerIcon(*payload.Icon); err != nil {
			return err
		}
	}

	var exists int
	err := tx.QueryRow("SELECT 1 FROM containers WHERE id = ?", payload.ID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil // update of a container we never saw added: nothing to do
	}
	if err != nil {
		return err
	}

	if payload.Name != nil {
		if _, err := tx.Exec("UPDATE containers SET name = ? WHERE id = ?", *payload.Name, payload.ID); err != nil {
			return err
		}
	}
	if payload.Color != nil {
		if _, err := tx.Exec("UPDATE containers SET color = ? WHERE id = ?", *payload.Color, payload.ID); err != nil {
			return err
		}
	}
	if payload.Icon != nil {
		if _, err := tx.Exec("UPDATE containers SET icon = ? WHERE id = ?", *payload.Icon, payload.ID); err != nil {
			return err
		}
	}
	return nil
}

// validateContainerColor rejects any color outside the fixed enum the
// container UI recognizes, per event.ContainerColors.
func validateContainerColor(color string) error {
	for _, c := range event.ContainerColors {
		if c == color {
			return nil
		}
	}
	return fmt.Errorf("invalid container color %q", color)
}

// validateContainerIcon rejects any icon outside the fixed enum the
// container UI recognizes, per event.ContainerIcons.
func validateContainerIcon(icon string) error {
	for _, i := range event.ContainerIcons {
		if i == icon {
			return nil
		}
	}
	return fmt.Errorf("invalid container icon %q", icon)
}

func upsertPref(tx *sql.Tx, payload event.PrefSet) error {
	var valueType, valueData string
	switch {
	case payload.Value.Bool != nil:
		valueType = "bool"
		valueData = fmt.Sprintf("%t", *payload.Value.Bool)
	case payload.Value.Int != nil:
		valueType = "int"
		valueData = fmt.Sprintf("%d", *payload.Value.Int)
	case payload.Value.Str != nil:
		valueType = "str"
		valueData = *payload.Value.Str
	default:
		return fmt.Errorf("pref %q has no value set", payload.Key)
	}

	_, err := tx.Exec(`
		INSERT INTO prefs (key, value_type, value_data) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value_type = excluded.value_type, value_data = excluded.value_data
	`, payload.Key, valueType, valueData)
	return err
}

// projectTabSent implements the to_device routing rule: a tab sent to
// this store's own device is queued in pending_tabs; a tab sent to any
// other device is log-only (the envelope is still persisted for log
// completeness, but there is nothing to project here).
func projectTabSent(tx *sql.Tx, env event.Envelope, payload event.TabSent, self string) error {
	if payload.ToDevice != self {
		return nil
	}

	var title sql.NullString
	if payload.Title != nil {
		title = sql.NullString{String: *payload.Title, Valid: true}
	}
	_, err := tx.Exec(`
		INSERT INTO pending_tabs (event_id, url, title) VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, env.ID, payload.URL, title)
	return err
}
