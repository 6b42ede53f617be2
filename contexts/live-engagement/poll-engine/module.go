package pollengine

import (
	"log/slog"

	httpadapter "marquee/contexts/live-engagement/poll-engine/adapters/http"
	"marquee/contexts/live-engagement/poll-engine/adapters/memory"
	application "marquee/contexts/live-engagement/poll-engine/application"
	"marquee/contexts/live-engagement/poll-engine/application/commands"
	"marquee/contexts/live-engagement/poll-engine/application/queries"
	"marquee/contexts/live-engagement/poll-engine/application/workers"
	"marquee/contexts/live-engagement/poll-engine/domain/entities"
	"marquee/contexts/live-engagement/poll-engine/ports"
)

type Module struct {
	Handler    httpadapter.Handler
	PollCloser workers.PollCloser
	Store      *memory.Store
}

type Dependencies struct {
	Polls    ports.PollRepository
	Votes    ports.VoteRepository
	Counters ports.QuotaStore
	Events   ports.EventDirectory
	Tickets  ports.TicketDirectory
	Outbox   ports.OutboxWriter
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Limits   application.QuotaLimits
	Logger   *slog.Logger
}

func NewModule(deps Dependencies) Module {
	gate := application.AccessGate{
		Events:  deps.Events,
		Tickets: deps.Tickets,
		Clock:   deps.Clock,
		Logger:  deps.Logger,
	}
	guard := application.AbuseGuard{
		Counters: deps.Counters,
		Polls:    deps.Polls,
		Limits:   deps.Limits,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	}
	results := queries.ResultsUseCase{
		Polls:   deps.Polls,
		Votes:   deps.Votes,
		Tickets: deps.Tickets,
		Gate:    gate,
		Clock:   deps.Clock,
		Logger:  deps.Logger,
	}
	pollUseCase := commands.PollUseCase{
		Polls:   deps.Polls,
		Gate:    gate,
		Guard:   guard,
		Results: results,
		Outbox:  deps.Outbox,
		Clock:   deps.Clock,
		IDGen:   deps.IDGen,
		Logger:  deps.Logger,
	}
	ballotUseCase := commands.BallotUseCase{
		Polls:  deps.Polls,
		Votes:  deps.Votes,
		Gate:   gate,
		Guard:  guard,
		Outbox: deps.Outbox,
		Clock:  deps.Clock,
		IDGen:  deps.IDGen,
		Logger: deps.Logger,
	}
	pollQueries := queries.PollQueries{
		Polls:   deps.Polls,
		Votes:   deps.Votes,
		Gate:    gate,
		Results: results,
		Logger:  deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:   pollUseCase,
			Ballots: ballotUseCase,
			Queries: pollQueries,
			Results: results,
			Logger:  deps.Logger,
		},
		PollCloser: workers.PollCloser{
			Polls:  pollUseCase,
			Logger: deps.Logger,
		},
	}
}

func NewInMemoryModule(seed []entities.Poll, logger *slog.Logger) Module {
	store := memory.NewStore(seed)
	module := NewModule(Dependencies{
		Polls:    store,
		Votes:    store,
		Counters: store,
		Events:   store,
		Tickets:  store,
		Outbox:   store,
		Clock:    store,
		IDGen:    store,
		Limits:   application.DefaultQuotaLimits(),
		Logger:   logger,
	})
	module.Store = store
	return module
}
