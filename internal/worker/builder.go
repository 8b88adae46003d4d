package worker

import (
	"github.com/wsqyouth/sqsflow/internal/framework"
	"github.com/wsqyouth/sqsflow/pkg/config"
	"github.com/wsqyouth/sqsflow/pkg/errorutil"
	"github.com/wsqyouth/sqsflow/pkg/logger"
)

// Handlers binds user code to one group. Exactly one of the two fields
// is used, depending on the group's batch setting.
type Handlers struct {
	Handler      framework.Handler
	BatchHandler framework.BatchHandler
}

// Build assembles the launcher from a validated config: one registry
// for all queues, one strategy and manager per group, everything
// sharing the given client and global middleware chain.
func Build(cfg *config.Config, client framework.QueueClient, bind map[string]Handlers, chain *framework.Chain, log logger.Logger) (*Launcher, error) {
	registry := framework.NewRegistry()
	var managers []*Manager

	for _, gc := range cfg.Groups {
		var queues []*framework.Queue
		for _, qc := range gc.Queues {
			q := &framework.Queue{
				Name:   qc.Name,
				URL:    qc.URL,
				Weight: qc.Weight,
				Group:  gc.Name,
			}
			if err := registry.Register(q); err != nil {
				return nil, err
			}
			queues = append(queues, q)
		}

		group := &framework.ProcessingGroup{
			Name:              gc.Name,
			Concurrency:       gc.Concurrency,
			Delay:             gc.Delay,
			WaitTime:          gc.WaitTime,
			Queues:            queues,
			AutoDelete:        gc.AutoDelete,
			Batch:             gc.Batch,
			RetryIntervals:    framework.IntervalsFromSeconds(gc.RetryIntervals),
			ExtendVisibility:  gc.ExtendVisibility,
			VisibilityTimeout: gc.VisibilityTimeout,
			Parser:            parserFor(gc.Parser),
		}

		h, ok := bind[gc.Name]
		if !ok {
			return nil, errorutil.Configf("group %q has no handler bound", gc.Name)
		}
		group.Handler = h.Handler
		group.BatchHandler = h.BatchHandler

		if err := group.Validate(); err != nil {
			return nil, err
		}

		var strategy framework.PollingStrategy
		switch gc.Strategy {
		case config.StrategyPriority:
			strategy = framework.NewStrictPriority(queues, group.EffectiveDelay())
		case config.StrategyWeighted:
			strategy = framework.NewWeightedRoundRobin(queues, group.EffectiveDelay())
		default:
			return nil, errorutil.Configf("group %q: unknown strategy %q", gc.Name, gc.Strategy)
		}

		managers = append(managers, NewManager(client, group, strategy, chain, log))
	}

	return NewLauncher(managers, cfg.Shutdown.Timeout, log), nil
}

func parserFor(name string) framework.BodyParser {
	switch name {
	case "json":
		return framework.JSONParser
	case "text":
		return framework.TextParser
	default:
		return framework.RawParser
	}
}
