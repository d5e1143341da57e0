package app

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"cleanloop/internal/config"
	"cleanloop/internal/imagestore"
	"cleanloop/internal/iteration"
	"cleanloop/internal/mapper"
	"cleanloop/internal/metrics"
	"cleanloop/internal/parallel"
	"cleanloop/internal/runner"
	"cleanloop/internal/summary"
	"cleanloop/internal/synthetic"
	"cleanloop/internal/template"
	"cleanloop/pkg/logging"
)

// Services holds every component of one clean, wired together.
//
// Initialization order follows the dependencies:
//  1. Metrics registry and recorder
//  2. Iteration controller, set up from the configuration
//  3. Workers, one per rank, and the gridding engine over them
//  4. One mapper per image and Taylor term, with artifact names from the
//     image's name template
//  5. Transport, synchronizer, continuation token and runner
//  6. Summary store
type Services struct {
	Registry   *prometheus.Registry
	Metrics    *metrics.Recorder
	Controller *iteration.Controller
	Token      *iteration.Token
	Workers    []*synthetic.Worker
	Mappers    *mapper.Collection
	Transport  *parallel.LocalTransport
	Sync       *parallel.Synchronizer
	Runner     *runner.Runner
	Summaries  *summary.Store

	// Images lists the configured image names.
	Images []string
}

// InitializeServices builds the services for cfg.Cleanloop.
func InitializeServices(cfg *Config) (*Services, error) {
	cl := cfg.Cleanloop
	if cl == nil {
		return nil, fmt.Errorf("no configuration loaded")
	}

	registry := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	ctrl := iteration.New(iteration.WithMetrics(rec))
	if err := ctrl.SetupIteration(cl.Iteration.Params()); err != nil {
		return nil, err
	}

	workers := make([]*synthetic.Worker, cl.Sync.Workers)
	pworkers := make([]parallel.Worker, cl.Sync.Workers)
	for rank := range workers {
		// Unequal partitions, so the weight normalization is exercised.
		workers[rank] = synthetic.NewWorker(rank, float64(rank+1))
		pworkers[rank] = workers[rank]
	}

	mappers, images, err := buildMappers(cl.Images, synthetic.NewEngine(workers...), workers)
	if err != nil {
		return nil, err
	}

	transport, err := parallel.NewLocalTransport(cl.Sync.Timeout, pworkers...)
	if err != nil {
		return nil, err
	}
	sync := parallel.NewSynchronizer(mappers, transport, parallel.WithMetrics(rec))

	tok := iteration.NewToken()
	var runnerOpts []runner.Option
	if !cfg.Quiet {
		runnerOpts = append(runnerOpts, runner.WithProgress(os.Stderr))
	}
	run := runner.New(mappers, sync, ctrl, synthetic.Hogbom{}, tok, runnerOpts...)

	summaries := summary.NewStore(config.NewStorageWithPath(cl.Storage.Dir))

	logging.Info("Bootstrap", "Initialized %d mappers over %d workers", mappers.NMappers(), len(workers))
	return &Services{
		Registry:   registry,
		Metrics:    rec,
		Controller: ctrl,
		Token:      tok,
		Workers:    workers,
		Mappers:    mappers,
		Transport:  transport,
		Sync:       sync,
		Runner:     run,
		Summaries:  summaries,
		Images:     images,
	}, nil
}

// buildMappers creates one mapper per image and Taylor term, with ids
// assigned in configuration order, and registers each field with every
// worker.
func buildMappers(images []config.ImageConfig, engine *synthetic.Engine, workers []*synthetic.Worker) (*mapper.Collection, []string, error) {
	tmpl := template.New()
	mappers := mapper.NewCollection()
	var names []string

	id := 0
	for _, img := range images {
		shape := imagestore.Shape(img.Shape)
		names = append(names, img.Name)
		for term := 0; term < img.NTerms; term++ {
			artifacts, err := tmpl.ArtifactNames(img.NameTemplate, img.Name, term, img.NTerms)
			if err != nil {
				return nil, nil, fmt.Errorf("image %s: %w", img.Name, err)
			}
			store, err := imagestore.New(img.Name, shape, imagestore.WithArtifactNames(artifacts))
			if err != nil {
				return nil, nil, fmt.Errorf("image %s: %w", img.Name, err)
			}
			field := synthetic.NewField(shape, img.Sky, term)
			for _, w := range workers {
				w.AddField(id, field)
			}
			if err := mappers.AddMapper(mapper.Spec{ID: id, Store: store, Engine: engine}); err != nil {
				return nil, nil, err
			}
			id++
		}
	}
	return mappers, names, nil
}
