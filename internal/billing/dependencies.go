package billing

import (
	"time"

	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// Dependencies общие зависимости компонентов движка биллинга.
// Notifier, Publisher, Metrics, Guard и Now необязательны.
type Dependencies struct {
	Subscriptions repository.SubscriptionRepository
	Plans         repository.PlanRepository
	Tenants       repository.TenantRepository
	Usage         repository.UsageRepository
	Gateway       PaymentGateway
	Notifier      Notifier
	Publisher     EventPublisher
	Metrics       metrics.BillingMetrics
	Guard         *TenantGuard
	Now           func() time.Time
	Log           *logger.Logger
}

// withDefaults заполняет необязательные зависимости заглушками.
func (d Dependencies) withDefaults() *Dependencies {
	if d.Log == nil {
		d.Log = logger.NewNop()
	}
	if d.Notifier == nil {
		d.Notifier = noopNotifier{}
	}
	if d.Publisher == nil {
		d.Publisher = noopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNopBillingMetrics()
	}
	if d.Guard == nil {
		d.Guard = NewTenantGuard(d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &d
}
