// Package sim replays canned incident scenarios against a running server.
package sim

import (
	"fmt"
	"sort"

	"github.com/miradorstack/blackbox/internal/models"
)

// Step is one event to publish, followed by a pause.
type Step struct {
	Service   string
	Env       string
	Level     models.Level
	Message   string
	RequestID string
	Pause     float64 // seconds
}

// Scenario is a named, reproducible sequence of events.
type Scenario struct {
	Name  string
	Title string
	// Build returns the steps; token seeds per-run request ids.
	Build func(token string) []Step
}

var catalogue = map[string]Scenario{
	"database-timeout":   {Name: "database-timeout", Title: "Database Timeout Incident", Build: databaseTimeout},
	"deployment-failure": {Name: "deployment-failure", Title: "Deployment Failure", Build: deploymentFailure},
	"cascading-failure":  {Name: "cascading-failure", Title: "Cascading Service Failure", Build: cascadingFailure},
	"mixed-environments": {Name: "mixed-environments", Title: "Multi-Environment Events", Build: mixedEnvironments},
}

// order is the replay order for "all".
var order = []string{"database-timeout", "deployment-failure", "cascading-failure", "mixed-environments"}

// Scenarios lists the catalogue in replay order.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(order))
	for _, name := range order {
		out = append(out, catalogue[name])
	}
	return out
}

// Lookup resolves a scenario by name.
func Lookup(name string) (Scenario, error) {
	sc, ok := catalogue[name]
	if !ok {
		names := make([]string, 0, len(catalogue))
		for n := range catalogue {
			names = append(names, n)
		}
		sort.Strings(names)
		return Scenario{}, fmt.Errorf("unknown scenario %q (known: %v)", name, names)
	}
	return sc, nil
}

func databaseTimeout(string) []Step {
	steps := []Step{{Service: "payments", Env: "prod", Level: models.LevelWarning, Message: "Database connection pool at 80%", Pause: 1}}
	for i := 1; i <= 7; i++ {
		steps = append(steps, Step{
			Service: "payments", Env: "prod", Level: models.LevelError,
			Message: "Database timeout after 30s", RequestID: fmt.Sprintf("req_%d", i), Pause: 0.5,
		})
	}
	return append(steps,
		Step{Service: "orders", Env: "prod", Level: models.LevelError, Message: "Payment service unreachable", RequestID: "req_1", Pause: 0.5},
		Step{Service: "notifications", Env: "prod", Level: models.LevelWarning, Message: "Failed to send payment confirmation"},
	)
}

func deploymentFailure(string) []Step {
	steps := []Step{{Service: "api-gateway", Env: "prod", Level: models.LevelInfo, Message: "Deployment v2.3.1 started", Pause: 1}}
	for i := 0; i < 6; i++ {
		steps = append(steps, Step{
			Service: "api-gateway", Env: "prod", Level: models.LevelError,
			Message: "Failed to load config: missing REDIS_URL", RequestID: fmt.Sprintf("deploy_%d", i), Pause: 0.3,
		})
	}
	return append(steps, Step{Service: "api-gateway", Env: "prod", Level: models.LevelWarning, Message: "Initiating rollback to v2.3.0"})
}

func cascadingFailure(token string) []Step {
	rid := func(n int) string { return fmt.Sprintf("cascade_%s_%d", token, n) }
	steps := []Step{{Service: "auth-service", Env: "prod", Level: models.LevelError, Message: "Redis connection refused", RequestID: rid(1), Pause: 0.5}}
	for i := 0; i < 4; i++ {
		steps = append(steps, Step{Service: "api-gateway", Env: "prod", Level: models.LevelError, Message: "Auth validation timeout", RequestID: rid(2), Pause: 0.3})
	}
	steps = append(steps,
		Step{Service: "web-app", Env: "prod", Level: models.LevelError, Message: "Failed to authenticate user", RequestID: rid(3)},
		Step{Service: "mobile-api", Env: "prod", Level: models.LevelError, Message: "401 Unauthorized from gateway", RequestID: rid(4)},
	)
	for i := 0; i < 3; i++ {
		steps = append(steps, Step{Service: "auth-service", Env: "prod", Level: models.LevelError, Message: "Redis connection pool exhausted", RequestID: rid(5), Pause: 0.2})
	}
	return steps
}

func mixedEnvironments(string) []Step {
	var steps []Step
	for i := 0; i < 3; i++ {
		steps = append(steps, Step{Service: "payments", Env: "staging", Level: models.LevelError, Message: "Test database connection failed", Pause: 0.2})
	}
	for i := 0; i < 6; i++ {
		steps = append(steps, Step{
			Service: "payments", Env: "prod", Level: models.LevelError,
			Message: "Payment processing timeout", RequestID: fmt.Sprintf("prod_req_%d", i), Pause: 0.3,
		})
	}
	return steps
}
