package airgap

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	configsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portable_airgap_configs_created_total",
		Help: "Air-gapped configurations created.",
	})

	toggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_airgap_toggles_total",
		Help: "Enable/disable operations that changed a configuration.",
	}, []string{"state"})

	syncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_airgap_syncs_total",
		Help: "Air-gapped data synchronizations, by result.",
	}, []string{"result"})

	itemsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portable_airgap_items_synced_total",
		Help: "Items reported by completed synchronizations.",
	})
)
