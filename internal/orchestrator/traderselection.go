package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/nofendian17/hl-whale-signal/internal/events"
	"github.com/nofendian17/hl-whale-signal/internal/repository"
)

// scoredTradersWait bounds how long runTraderSelection waits for the
// scoring processor's asynchronous scored_traders event to correlate with
// the leaderboard fetch that triggered it, before falling back to the
// most recently cached scored set (spec §9 Open Question 2).
const scoredTradersWait = 5 * time.Second

// runTraderSelection is spec §4.6 step 5, the leaderboard-to-tracked-
// traders reconciliation: fetch the leaderboard, let the scoring
// processor score it over the bus, diff the scored set against the
// currently active tracked population, and push the delta into storage
// and the trader-positions collector's live subscription set. This is the
// sole caller of TraderPositionsCollector.AddTrader/RemoveTrader (spec §9
// Open Question 2 resolution: the WS user-channel set and the leaderboard
// job never mutate it concurrently). Grounded on the teacher's
// performance_refresher job shape (app/performance_refresher.go: fetch,
// diff against the previous snapshot, act on the delta).
func (a *App) runTraderSelection(ctx context.Context) error {
	lbEvent, err := a.leaderboardFetcher.Run(ctx)
	if err != nil {
		return err
	}

	scored := a.waitForScoredTraders(ctx, lbEvent.EventID)
	if scored == nil {
		log.Println("⚠️  trader_selection: no scored_traders available, skipping this cycle")
		return nil
	}

	active, err := a.repo.ActiveTrackedTraders()
	if err != nil {
		return err
	}
	activeByAddr := make(map[string]repository.TrackedTrader, len(active))
	for _, t := range active {
		activeByAddr[t.Address] = t
	}

	wanted := make(map[string]events.ScoredTrader, len(scored.Traders))
	for _, st := range scored.Traders {
		wanted[st.TraderAddress] = st
	}

	// Safety (spec §8): an empty scored set must never deactivate the
	// previous active population — it almost certainly means the upstream
	// leaderboard fetch or scoring pass came back empty, not that every
	// tracked trader genuinely dropped out.
	if len(wanted) == 0 {
		log.Println("⚠️  trader_selection: scored set is empty, retaining previous active set")
		return nil
	}

	now := time.Now().UTC()
	added, removed := 0, 0

	for addr, st := range wanted {
		tagsJSON, err := repository.MarshalJSON(st.Tags)
		if err != nil {
			log.Printf("⚠️  trader_selection: marshal tags for %s: %v", addr, err)
			continue
		}
		if err := a.repo.UpsertTrackedTrader(&repository.TrackedTrader{
			Address: addr, AccountValue: st.AccountValue, Score: st.Score,
			TagsJSON: string(tagsJSON), Active: true, UpdatedAt: now,
		}); err != nil {
			log.Printf("⚠️  trader_selection: upsert %s: %v", addr, err)
			continue
		}
		if _, wasActive := activeByAddr[addr]; !wasActive {
			a.traderPositionsCollector.AddTrader(addr)
			added++
		}
	}

	for addr := range activeByAddr {
		if _, stillWanted := wanted[addr]; stillWanted {
			continue
		}
		if err := a.repo.DeactivateTrackedTrader(addr); err != nil {
			log.Printf("⚠️  trader_selection: deactivate %s: %v", addr, err)
			continue
		}
		a.traderPositionsCollector.RemoveTrader(addr)
		removed++
	}

	log.Printf("🔭 trader_selection: %d tracked, +%d -%d", len(wanted), added, removed)
	return nil
}

// waitForScoredTraders polls the bus-populated cache for the scored set
// correlated with leaderboardEventID, falling back to whatever the cache
// last held once scoredTradersWait elapses.
func (a *App) waitForScoredTraders(ctx context.Context, leaderboardEventID string) *events.ScoredTraders {
	deadline := time.Now().Add(scoredTradersWait)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if scored, ok := a.latestScored.latestFor(leaderboardEventID); ok {
			return scored
		}
		if time.Now().After(deadline) {
			return a.latestScored.latest()
		}
		select {
		case <-ctx.Done():
			return a.latestScored.latest()
		case <-ticker.C:
		}
	}
}
