package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zatekoja/clinicopsdashboard/internal/adapters/cache"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/clients/recordsapi"
	"github.com/zatekoja/clinicopsdashboard/internal/query/adapters"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/internal/query/orchestrator"
	"github.com/zatekoja/clinicopsdashboard/pkg/config"
	"github.com/zatekoja/clinicopsdashboard/pkg/secrets"
)

// columns lists the fields printed per kind, in order
var columns = map[string][]string{
	fields.KindPatients:     {"id", "first_name", "last_name", "gender", "blood_group", "date_of_birth", "phone"},
	fields.KindAppointments: {"id", "patient_name", "doctor_name", "department", "status", "appointment_date"},
	fields.KindAssignments:  {"token", "patient_name", "doctor_name", "department", "room", "status", "assigned_at"},
}

var listCmd = newListCommand()

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <kind>",
		Short: "Print one page of records",
		Long: `list opens a view of the given record kind, applies the search, filter,
sort and page flags, waits for the view to settle and prints the page.

Examples:
  browse list patients --search okafor --sort age:desc
  browse list appointments --filter status=scheduled --filter department=Cardiology
  browse list assignments --min-age 18 --max-age 65 --page 2 --json`,
		Args: cobra.ExactArgs(1),
		RunE: runList,
	}

	cmd.Flags().String("search", "", "free-text search")
	cmd.Flags().StringArray("filter", nil, "categorical filter as name=value (repeatable)")
	cmd.Flags().String("min-age", "", "lower age bound, inclusive")
	cmd.Flags().String("max-age", "", "upper age bound, inclusive")
	cmd.Flags().String("sort", "", "sort key, optionally suffixed with :asc or :desc")
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("page-size", 0, "records per page (default from QUERY_PAGE_SIZE)")
	cmd.Flags().Duration("timeout", 30*time.Second, "how long to wait for the page")
	cmd.Flags().Bool("json", false, "print the view state as JSON")
	return cmd
}

func init() {
	rootCmd.AddCommand(listCmd)
}

// listRequest is the parsed flag set of one list invocation
type listRequest struct {
	Kind     string
	Search   string
	Filters  entities.FilterSpec
	Sort     entities.SortSpec
	Page     int
	PageSize int
}

func parseListRequest(cmd *cobra.Command, kind string) (listRequest, error) {
	fieldSet, err := fields.Lookup(kind)
	if err != nil {
		return listRequest{}, fmt.Errorf("unknown kind %q (try: %s)", kind, strings.Join(fields.Kinds(), ", "))
	}

	req := listRequest{Kind: kind, Filters: entities.FilterSpec{}}
	req.Search, _ = cmd.Flags().GetString("search")
	req.Page, _ = cmd.Flags().GetInt("page")
	req.PageSize, _ = cmd.Flags().GetInt("page-size")

	rawFilters, _ := cmd.Flags().GetStringArray("filter")
	for _, raw := range rawFilters {
		name, value, err := parseFilter(raw)
		if err != nil {
			return listRequest{}, err
		}
		if !contains(fieldSet.FilterNames(), name) || fieldSet.IsRangeFilter(name) {
			return listRequest{}, fmt.Errorf("unknown categorical filter %q for %s", name, kind)
		}
		req.Filters[name] = entities.FilterValue{Value: value}
	}

	minAge, _ := cmd.Flags().GetString("min-age")
	maxAge, _ := cmd.Flags().GetString("max-age")
	if minAge != "" || maxAge != "" {
		if !fieldSet.IsRangeFilter("age") {
			return listRequest{}, fmt.Errorf("%s cannot be filtered by age", kind)
		}
		req.Filters["age"] = entities.FilterValue{Min: minAge, Max: maxAge}
	}

	rawSort, _ := cmd.Flags().GetString("sort")
	req.Sort = parseSort(rawSort)
	return req, nil
}

func runList(cmd *cobra.Command, args []string) error {
	req, err := parseListRequest(cmd, args[0])
	if err != nil {
		return err
	}
	asJSON, _ := cmd.Flags().GetBool("json")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if _, err := secrets.ApplyVaultSecrets(cmd.Context(), vaultCfg); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	endpoint, ok := cfg.Records.RecordsPath(req.Kind)
	if !ok || endpoint == "" {
		return fmt.Errorf("no endpoint configured for %s", req.Kind)
	}
	if req.PageSize < 1 {
		req.PageSize = cfg.Query.PageSize
	}

	fieldSet, err := fields.Lookup(req.Kind)
	if err != nil {
		return err
	}
	source := adapters.NewRecordSource(adapters.RecordSourceOptions{
		Kind:             req.Kind,
		Endpoint:         endpoint,
		Fetcher:          recordsapi.NewClient(recordsapi.OptionsFromConfig(cfg, nil)),
		Cache:            adapters.NewSweepCache(cache.NewMemoryAdapter(4, cfg.Cache.TTL)),
		CacheTTL:         cfg.Cache.TTL,
		SweepPageSize:    cfg.Records.SweepPageSize,
		SweepConcurrency: cfg.Records.SweepConcurrency,
	})
	orch := orchestrator.New(orchestrator.Options{
		Fields:     fieldSet,
		Source:     source,
		PageSize:   req.PageSize,
		PageWindow: cfg.Query.PageWindow,
		// Flags arrive all at once, nothing to debounce.
		Debounce: 0,
	})
	defer orch.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	state, err := settle(ctx, orch, req)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	renderPage(cmd.OutOrStdout(), state, columns[req.Kind])
	if state.Error != nil {
		return fmt.Errorf("%s", state.Error.Message)
	}
	return nil
}

// settle applies req to orch and waits for the resulting page. The page
// is applied last so it clamps against the filtered page count.
func settle(ctx context.Context, orch *orchestrator.Orchestrator, req listRequest) (entities.ViewState, error) {
	orch.Start()
	if req.Search != "" {
		orch.SetSearchText(req.Search)
	}
	for name, value := range req.Filters {
		orch.SetFilter(name, value)
	}
	if req.Sort.Key != "" {
		orch.SetSort(req.Sort.Key, req.Sort.Direction)
	}
	if err := orch.WaitIdle(ctx); err != nil {
		return entities.ViewState{}, fmt.Errorf("records did not load in time: %w", err)
	}

	if req.Page > 1 {
		orch.GoToPage(req.Page)
		if err := orch.WaitIdle(ctx); err != nil {
			return entities.ViewState{}, fmt.Errorf("page %d did not load in time: %w", req.Page, err)
		}
	}

	state := orch.GetState()
	for _, ignored := range state.IgnoredFilters {
		log.Warn().Str("filter", ignored).Msg("filter value ignored")
	}
	return state, nil
}

func renderPage(w io.Writer, state entities.ViewState, cols []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(cols)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, rec := range state.Result.VisibleRecords {
		row := make([]string, len(cols))
		for i, col := range cols {
			row[i] = rec.Str(col)
		}
		table.Append(row)
	}
	table.Render()

	p := state.Result.Pagination
	fmt.Fprintf(w, "\npage %d of %d, %d %s (%s mode)\n", p.Page, p.Pages, p.Total, state.Kind, state.Mode)
}

// parseFilter splits name=value
func parseFilter(raw string) (string, string, error) {
	name, value, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("filter %q must look like name=value", raw)
	}
	return name, strings.TrimSpace(value), nil
}

// parseSort reads key[:asc|desc]. Anything but desc sorts ascending.
func parseSort(raw string) entities.SortSpec {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return entities.SortSpec{}
	}
	key, dir, _ := strings.Cut(raw, ":")
	return entities.SortSpec{Key: strings.TrimSpace(key), Direction: entities.ParseSortDirection(dir)}
}

func contains(items []string, item string) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}
