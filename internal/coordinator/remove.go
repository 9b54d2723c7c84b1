package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"EquitySync/internal/model"
	"EquitySync/internal/notifier"
	"EquitySync/internal/storage"
)

// RemoveEntity deletes everything the engine holds for entity, in order:
// index entry (persisted), price series, derived table, attribute row. Every
// step runs even if an earlier one failed; the failures are joined into the
// result. Already absent objects are not failures.
func (c *Coordinator) RemoveEntity(entity model.Entity) model.EntityResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remove(entity)
}

// RemoveEntities cascades each entity and sends one notification.
func (c *Coordinator) RemoveEntities(ctx context.Context, entities []model.Entity) []model.EntityResult {
	entities = model.UniqueEntities(entities)
	if len(entities) == 0 {
		return nil
	}
	c.mu.Lock()
	out := make([]model.EntityResult, 0, len(entities))
	var errs []string
	for _, e := range entities {
		res := c.remove(e)
		if res.Err != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", e, res.Err))
		}
		out = append(out, res)
	}
	c.mu.Unlock()

	if err := c.d.Notifier.Notify(ctx, notifier.FormatRemoval(entities, errs)); err != nil {
		log.Error().Err(err).Msg("send removal notice")
	}
	return out
}

func (c *Coordinator) remove(entity model.Entity) model.EntityResult {
	res := model.EntityResult{Entity: entity, Stage: model.StageRemove, Outcome: model.OutcomeUpdated}
	var errs []error

	if err := c.ensureIndex(); err != nil {
		errs = append(errs, fmt.Errorf("load index: %w", err))
	} else {
		c.idx.Remove(entity)
		if _, err := c.idx.PersistIfDirty(); err != nil {
			errs = append(errs, fmt.Errorf("persist index: %w", err))
		}
	}

	if err := storage.IgnoreNotFound(c.d.Store.DeleteSeries(entity)); err != nil {
		errs = append(errs, fmt.Errorf("delete series: %w", err))
	}
	if err := storage.IgnoreNotFound(c.d.Store.DeleteDerived(entity)); err != nil {
		errs = append(errs, fmt.Errorf("delete derived: %w", err))
	}
	if c.d.Attributes != nil {
		if _, err := c.d.Attributes.Remove(entity); err != nil {
			errs = append(errs, fmt.Errorf("remove attributes: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.Error().Str("entity", string(entity)).Err(err).Msg("removal incomplete")
		res.Outcome = model.OutcomeFailed
		res.Err = err.Error()
		return res
	}
	log.Info().Str("entity", string(entity)).Msg("entity removed")
	return res
}
