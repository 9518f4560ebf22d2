package autoplay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/latoulicious/Resona/pkg/database"
	"github.com/latoulicious/Resona/pkg/logging"
	"github.com/latoulicious/Resona/pkg/session"
	"github.com/latoulicious/Resona/pkg/transport"
)

const chainTimeout = 30 * time.Second

// runChain executes the autoplay fallback chain for one queue-end event.
// It reports whether at least one track was enqueued; every failure mode
// degrades to false and never escapes this boundary.
func (p *Policy) runChain(handle *session.Handle, last transport.Track, setBy string) bool {
	runID := uuid.NewString()
	log := p.log.With(
		logging.String("guild", handle.GuildID()),
		logging.String("autoplay_run", runID))

	ctx, cancel := context.WithTimeout(context.Background(), chainTimeout)
	defer cancel()

	// A track resolved from a foreign catalog makes a poor similarity
	// seed; try to find its primary-catalog equivalent first. On a miss
	// the original seed is kept.
	target := last
	if !last.IsPrimaryCatalog() {
		query := fmt.Sprintf("%s %s", last.Author, last.Title)
		results, err := p.searcher.Search(ctx, query, transport.SourceYouTube)
		if err == nil && len(results) > 0 {
			target = results[0]
			log.Debug("re-resolved seed against primary catalog",
				logging.String("seed", target.Title))
		}
	}

	candidates, err := p.recommender.SimilarTracks(ctx, target.Author, target.Title)
	if err != nil {
		log.Warn("recommendation lookup failed", logging.Error(err))
		return false
	}
	if len(candidates) == 0 {
		log.Debug("no similar tracks found",
			logging.String("artist", target.Author),
			logging.String("title", target.Title))
		return false
	}

	tier, err := p.store.GetPlanTier(setBy)
	if err != nil {
		log.Warn("plan tier lookup failed, assuming free", logging.Error(err))
		tier = database.PlanFree
	}
	limit := tier.AutoplayLimit()

	take := limit
	if len(candidates) < take {
		take = len(candidates)
	}

	resolved := make([]transport.Track, 0, take)
	for _, candidate := range candidates[:take] {
		query := fmt.Sprintf("%s %s", candidate.Artist, candidate.Name)
		results, err := p.searcher.Search(ctx, query, transport.SourceYouTube)
		if err != nil || len(results) == 0 {
			// Unresolvable candidates are dropped, the rest still count.
			continue
		}
		track := results[0]
		track.Requester = setBy
		resolved = append(resolved, track)
	}

	if len(resolved) > limit {
		resolved = resolved[:limit]
	}
	if len(resolved) == 0 {
		log.Warn("no candidates resolved against the catalog")
		return false
	}

	if !handle.Player().Playing() {
		if err := handle.Play(resolved[0]); err != nil {
			log.Warn("failed to start autoplay playback", logging.Error(err))
			return false
		}
		if len(resolved) > 1 {
			if err := handle.Queue().Add(resolved[1:]...); err != nil {
				log.Warn("failed to queue autoplay tracks", logging.Error(err))
			}
		}
	} else {
		if err := handle.Queue().Add(resolved...); err != nil {
			log.Warn("failed to queue autoplay tracks", logging.Error(err))
			return false
		}
	}

	log.Info("autoplay queued similar tracks",
		logging.Int("count", len(resolved)),
		logging.String("plan", string(tier)))
	p.notifier.Notify(handle.TextChannelID(),
		fmt.Sprintf("Autoplay queued %d similar tracks.", len(resolved)))
	return true
}
