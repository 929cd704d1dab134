package engine

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testclock "k8s.io/utils/clock/testing"

	"github.com/adaptive-compute/workload-engine/internal/capacity"
	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/monitor"
)

func suiteConfig() config.Config {
	cfg := config.Default()
	cfg.Engine.TickInterval = 100 * time.Millisecond
	cfg.Capacity.MinUnits = 2
	cfg.Capacity.MaxUnits = 16
	return cfg
}

func suiteEngine(probe *monitor.StaticProbe) (*Engine, error) {
	return New(suiteConfig(), Options{
		Probes:  []monitor.ClassProbe{probe},
		Ceiling: capacity.StaticCeiling{MaxUnits: 16},
		Logger:  logging.NewTestLogger(),
		Clock:   testclock.NewFakeClock(time.Unix(1756500000, 0)),
	})
}

var _ = Describe("Engine lifecycle", func() {
	var (
		eng   *Engine
		probe *monitor.StaticProbe
		ctx   context.Context
	)

	BeforeEach(func() {
		probe = monitor.NewStaticProbe(monitor.ClassCPU)
		var err error
		eng, err = suiteEngine(probe)
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Context("before Start", func() {
		It("should report Stopped", func() {
			Expect(eng.EngineState()).To(Equal(StateStopped))
		})

		It("should reject Pause", func() {
			Expect(eng.Pause()).To(MatchError(ErrInvalidTransition))
		})

		It("should reject Resume", func() {
			Expect(eng.Resume()).To(MatchError(ErrInvalidTransition))
		})

		It("should reject Reset", func() {
			Expect(eng.Reset()).To(MatchError(ErrInvalidTransition))
		})
	})

	Context("once started", func() {
		BeforeEach(func() {
			Expect(eng.Start(ctx)).To(Succeed())
		})

		AfterEach(func() {
			_ = eng.Stop()
		})

		It("should report Running", func() {
			Expect(eng.EngineState()).To(Equal(StateRunning))
		})

		It("should reject a second Start", func() {
			Expect(eng.Start(ctx)).To(MatchError(ErrInvalidTransition))
		})

		It("should pause and resume", func() {
			Expect(eng.Pause()).To(Succeed())
			Expect(eng.EngineState()).To(Equal(StatePaused))
			Expect(eng.Resume()).To(Succeed())
			Expect(eng.EngineState()).To(Equal(StateRunning))
		})

		It("should seed the scheduler budget from the adjuster", func() {
			Expect(eng.Stats().Scheduler.Budget).To(Equal(16))
		})

		It("should stop cleanly", func() {
			Expect(eng.Stop()).To(Succeed())
			Expect(eng.EngineState()).To(Equal(StateStopped))
		})
	})

	Context("configuration", func() {
		It("should treat an identical config as a no-op", func() {
			before := eng.Stats().Capacity
			Expect(eng.SetConfig(suiteConfig())).To(Succeed())
			after := eng.Stats().Capacity
			Expect(after).To(Equal(before))
		})

		It("should reject an invalid config without applying it", func() {
			bad := suiteConfig()
			bad.Capacity.MinUnits = 0
			Expect(eng.SetConfig(bad)).To(HaveOccurred())
			Expect(eng.Config().Capacity.MinUnits).To(Equal(2))
		})

		It("should clamp the budget when the range shrinks", func() {
			next := suiteConfig()
			next.Capacity.MaxUnits = 8
			Expect(eng.SetConfig(next)).To(Succeed())
			Expect(eng.Stats().Capacity.Current).To(Equal(8))
			Expect(eng.Stats().Scheduler.Budget).To(Equal(8))
		})
	})
})
