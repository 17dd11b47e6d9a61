/******************************************************************************
*
*  Copyright 2024 SAP SE
*
*  Licensed under the Apache License, Version 2.0 (the "License");
*  you may not use this file except in compliance with the License.
*  You may obtain a copy of the License at
*
*      http://www.apache.org/licenses/LICENSE-2.0
*
*  Unless required by applicable law or agreed to in writing, software
*  distributed under the License is distributed on an "AS IS" BASIS,
*  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
*  See the License for the specific language governing permissions and
*  limitations under the License.
*
******************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	policy "github.com/databus23/goslo.policy"
	"github.com/dlmiddlecote/sqlstats"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sapcc/go-bits/httpee"
	"github.com/sapcc/go-bits/logg"
	"github.com/sapcc/go-bits/osext"
	"github.com/sapcc/go-bits/sre"
	"gopkg.in/yaml.v2"

	"github.com/sapcc/nova-quota/internal/core"
	"github.com/sapcc/nova-quota/internal/counting"
	"github.com/sapcc/nova-quota/internal/db"
	"github.com/sapcc/nova-quota/internal/limits"
	"github.com/sapcc/nova-quota/internal/openstack"
	"github.com/sapcc/nova-quota/internal/pprofapi"
	"github.com/sapcc/nova-quota/internal/quota"

	_ "github.com/sapcc/nova-quota/internal/drivers"
)

func main() {
	logg.ShowDebug = osext.GetenvBool("NOVA_QUOTA_DEBUG")

	//first two arguments must be task name and configuration file
	if len(os.Args) < 3 {
		printUsageAndExit()
	}
	taskName, configPath, remainingArgs := os.Args[1], os.Args[2], os.Args[3:]

	//select task
	var task func(context.Context, *application, []string) error
	switch taskName {
	case "show-defaults":
		task = taskShowDefaults
	case "show-class":
		task = taskShowClass
	case "show-quotas":
		task = taskShowQuotas
	case "show-settable":
		task = taskShowSettable
	case "count":
		task = taskCount
	case "check":
		task = taskCheck
	case "serve-metrics":
		task = taskServeMetrics
	default:
		printUsageAndExit()
	}

	//load configuration
	cfg, errs := core.NewLiveConfigurationFromFile(configPath)
	if !errs.IsEmpty() {
		for _, err := range errs {
			logg.Error(err.Error())
		}
		logg.Fatal("could not load configuration from %s", configPath)
	}

	ctx := context.Background()
	app, err := newApplication(ctx, cfg)
	if err != nil {
		logg.Fatal(err.Error())
	}

	//run task
	err = task(ctx, app, remainingArgs)
	if err != nil {
		logg.Fatal(err.Error())
	}
}

var usageMessage = strings.Replace(strings.TrimSpace(`
Usage:
\t%s show-defaults <config-file>
\t%s show-class <config-file> <class-name>
\t%s (show-quotas|show-settable) <config-file> <project-id> [<user-id>]
\t%s count <config-file> <resource> <project-id> [<user-id> [<server-group-uuid>]]
\t%s check <config-file> <project-id> <user-id> [user:]<resource>=<integer-value>...
\t%s serve-metrics <config-file>
`), `\t`, "\t", -1) + "\n"

func printUsageAndExit() {
	fmt.Fprintln(os.Stderr, strings.Replace(usageMessage, "%s", os.Args[0], -1))
	os.Exit(1)
}

////////////////////////////////////////////////////////////////////////////////
// wiring

type application struct {
	Config   *core.LiveConfiguration
	Store    *db.APIStore
	Counter  *counting.Counter
	Engine   *quota.Engine
	Enforcer core.Enforcer
}

func newApplication(ctx context.Context, cfg *core.LiveConfiguration) (*application, error) {
	//connect to database
	dbMap, err := db.Init()
	if err != nil {
		return nil, fmt.Errorf("cannot connect to API database: %w", err)
	}
	prometheus.MustRegister(sqlstats.NewStatsCollector("nova_quota", dbMap.Db))
	store := db.NewAPIStore(dbMap)
	backends := counting.Backends{
		Cells:         store,
		Mappings:      store,
		BuildRequests: store,
		KeyPairs:      store,
		Groups:        store,
	}

	//connect to OpenStack if the configuration requires it, or if credentials
	//are available (a configuration reload may switch to Placement counting)
	var limitsClient core.LimitsClient
	current := cfg.Get()
	needsOpenStack := current.Quota.UsageCounter != core.UsageCounterLegacy || current.Quota.Driver == "unified_limits"
	if needsOpenStack || os.Getenv("OS_AUTH_URL") != "" {
		provider, eo, err := openstack.Connect(ctx)
		if err != nil {
			return nil, err
		}
		backends.Inventory, err = openstack.NewPlacementClient(provider, eo)
		if err != nil {
			return nil, fmt.Errorf("cannot initialize Placement client: %w", err)
		}
		limitsClient, err = openstack.NewLimitsClient(provider, eo, current.UnifiedLimits)
		if err != nil {
			return nil, fmt.Errorf("cannot initialize Keystone client: %w", err)
		}
	}

	counter := counting.NewCounter(cfg, backends)
	registry, err := core.NewCatalog(counter)
	if err != nil {
		return nil, err
	}
	deps := core.DriverDependencies{Config: cfg, Quotas: store}
	if limitsClient != nil {
		deps.Limits = &limits.Service{Client: limitsClient, Counter: counter}
	}

	app := &application{
		Config:  cfg,
		Store:   store,
		Counter: counter,
		Engine:  quota.NewEngine(registry, deps),
	}
	if path := os.Getenv("NOVA_QUOTA_POLICY_PATH"); path != "" {
		app.Enforcer, err = loadPolicyFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not load policy file: %w", err)
		}
	}
	return app, nil
}

//requestContext describes the caller. It defaults to the target project and
//user, but can be overridden through the environment.
func (app *application) requestContext(ctx context.Context, projectID, userID string) context.Context {
	rc := core.NewRequestContext(
		osext.GetenvOrDefault("NOVA_QUOTA_CALLER_PROJECT_ID", projectID),
		osext.GetenvOrDefault("NOVA_QUOTA_CALLER_USER_ID", userID),
	)
	rc.QuotaClass = os.Getenv("NOVA_QUOTA_CALLER_QUOTA_CLASS")
	if roles := os.Getenv("NOVA_QUOTA_CALLER_ROLES"); roles != "" {
		rc.Roles = strings.Split(roles, ",")
	}
	rc.Enforcer = app.Enforcer
	logg.Debug("request %s: project %q, user %q", rc.RequestID, rc.ProjectID, rc.UserID)
	return core.WithRequestContext(ctx, rc)
}

//authorize is a no-op unless a policy file is configured.
func (app *application) authorize(ctx context.Context, rule, projectID string) error {
	if app.Enforcer == nil {
		return nil
	}
	rc := core.RequestContextFrom(ctx)
	if !rc.Can(rule, map[string]string{"project_id": projectID}) {
		return fmt.Errorf("policy does not allow %s on project %s", rule, projectID)
	}
	return nil
}

func loadPolicyFile(path string) (core.Enforcer, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules map[string]string
	err = yaml.Unmarshal(bytes, &rules)
	if err != nil {
		return nil, err
	}
	return policy.NewEnforcer(rules)
}

func printJSON(data interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

////////////////////////////////////////////////////////////////////////////////
// tasks: show-*

func taskShowDefaults(ctx context.Context, app *application, args []string) error {
	if len(args) != 0 {
		printUsageAndExit()
	}
	defaults, err := app.Engine.GetDefaults(ctx)
	if err != nil {
		return err
	}
	return printJSON(defaults)
}

func taskShowClass(ctx context.Context, app *application, args []string) error {
	if len(args) != 1 {
		printUsageAndExit()
	}
	classLimits, err := app.Engine.GetClassQuotas(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(classLimits)
}

func projectAndUserArgs(args []string) (projectID, userID string) {
	switch len(args) {
	case 1:
		return args[0], ""
	case 2:
		return args[0], args[1]
	default:
		printUsageAndExit()
		return "", ""
	}
}

func taskShowQuotas(ctx context.Context, app *application, args []string) error {
	projectID, userID := projectAndUserArgs(args)
	ctx = app.requestContext(ctx, projectID, userID)
	err := app.authorize(ctx, "os_compute_api:os-quota-sets:show", projectID)
	if err != nil {
		return err
	}

	var quotas core.QuotaSet
	if userID == "" {
		quotas, err = app.Engine.GetProjectQuotas(ctx, projectID, core.QuotaOptions{Usages: true, Remains: true})
	} else {
		quotas, err = app.Engine.GetUserQuotas(ctx, projectID, userID, core.QuotaOptions{Usages: true})
	}
	if err != nil {
		return err
	}
	return printJSON(quotas)
}

func taskShowSettable(ctx context.Context, app *application, args []string) error {
	projectID, userID := projectAndUserArgs(args)
	ctx = app.requestContext(ctx, projectID, userID)
	err := app.authorize(ctx, "os_compute_api:os-quota-sets:update", projectID)
	if err != nil {
		return err
	}

	settable, err := app.Engine.GetSettableQuotas(ctx, projectID, userID)
	if err != nil {
		return err
	}
	return printJSON(settable)
}

////////////////////////////////////////////////////////////////////////////////
// task: count

func taskCount(ctx context.Context, app *application, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		printUsageAndExit()
	}
	req := core.CountRequest{ProjectID: args[1]}
	if len(args) > 2 {
		req.UserID = args[2]
	}
	if len(args) > 3 {
		group, err := app.Store.GetInstanceGroup(ctx, args[3])
		if err != nil {
			return err
		}
		req.Group = group
	}

	ctx = app.requestContext(ctx, req.ProjectID, req.UserID)
	count, err := app.Engine.Count(ctx, args[0], req)
	if err != nil {
		return err
	}
	return printJSON(count)
}

////////////////////////////////////////////////////////////////////////////////
// task: check

var checkValueRx = regexp.MustCompile(`^(user:)?([^=]+)=(-?\d+)$`)

func taskCheck(ctx context.Context, app *application, args []string) error {
	if len(args) < 3 {
		printUsageAndExit()
	}
	projectID, userID := args[0], args[1]

	projectValues := make(map[string]int64)
	userValues := make(map[string]int64)
	for _, arg := range args[2:] {
		match := checkValueRx.FindStringSubmatch(arg)
		if match == nil {
			printUsageAndExit()
		}
		val, err := strconv.ParseInt(match[3], 10, 64)
		if err != nil {
			logg.Fatal(err.Error())
		}
		if match[1] == "" {
			projectValues[match[2]] = val
		} else {
			userValues[match[2]] = val
		}
	}

	ctx = app.requestContext(ctx, projectID, userID)
	var err error
	if len(userValues) == 0 {
		err = app.Engine.LimitCheck(ctx, projectValues, projectID, userID)
	} else {
		err = app.Engine.LimitCheckProjectAndUser(ctx, projectValues, userValues, projectID, userID)
	}
	if err != nil {
		return err
	}
	logg.Info("all values are within quota")
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// task: serve-metrics

func taskServeMetrics(ctx context.Context, app *application, args []string) error {
	if len(args) != 0 {
		printUsageAndExit()
	}

	//reload configuration on SIGHUP
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGHUP)
		for range signals {
			errs := app.Config.Reload()
			if errs.IsEmpty() {
				logg.Info("configuration reloaded")
				continue
			}
			for _, err := range errs {
				logg.Error("cannot reload configuration: %s", err.Error())
			}
		}
	}()

	prometheus.MustRegister(counting.GateMetricsCollector{Gate: app.Counter.Gate()})
	handler := app.metricsHandler()

	listenAddr := osext.GetenvOrDefault("NOVA_QUOTA_METRICS_LISTEN_ADDRESS", ":8080")
	logg.Info("listening on " + listenAddr)
	return httpee.ListenAndServeContext(httpee.ContextWithSIGINT(ctx, 10*time.Second), listenAddr, handler)
}

var (
	httpDurationBuckets = []float64{0.025, 0.1, 0.25, 1, 2.5}

	//1024 and 8192 indicate that the request/response probably fits inside a single
	//ethernet frame or jumboframe, respectively
	httpBodySizeBuckets = []float64{1024, 8192, 1000000, 10000000}
)

func init() {
	sre.Init(sre.Config{
		AppName:                  "nova-quota",
		FirstByteDurationBuckets: httpDurationBuckets,
		ResponseDurationBuckets:  httpDurationBuckets,
		RequestBodySizeBuckets:   httpBodySizeBuckets,
		ResponseBodySizeBuckets:  httpBodySizeBuckets,
	})
}

//metricsHandler serves Prometheus metrics, the health check and the pprof
//endpoints. All requests are instrumented.
func (app *application) metricsHandler() http.Handler {
	r := mux.NewRouter()
	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	pprofapi.API{IsAuthorized: pprofapi.IsRequestFromLocalhost}.AddTo(r)
	r.Methods("GET", "HEAD").Path("/healthcheck").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sre.IdentifyEndpoint(r, "/healthcheck")
		_, err := app.Engine.Driver()
		if err == nil {
			err = app.Store.DB.Db.PingContext(r.Context())
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Error(w, "ok", http.StatusOK)
	})
	return sre.Instrument(r)
}
