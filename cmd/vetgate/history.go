package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/itchyny/gojq"

	"github.com/vetgate/vetgate/internal/store"
	"github.com/vetgate/vetgate/pkg/schema"
)

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides config)")
	workflowID := fs.String("workflow", "", "only runs of this workflow")
	status := fs.String("status", "", "only runs with this status (running, completed_success, completed_failure, error)")
	limit := fs.Int("limit", 50, "maximum number of runs")
	trail := fs.Bool("trail", false, "include the per-step trail of each run")
	jqExpr := fs.String("jq", ".", "jq filter applied to the run list")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := loadConfig()
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	executions, err := st.ListExecutions(ctx, store.ExecutionFilter{
		WorkflowID: *workflowID,
		Status:     schema.ExecutionStatus(*status),
		Limit:      *limit,
	})
	if err != nil {
		return err
	}

	docs := make([]any, 0, len(executions))
	for _, exec := range executions {
		doc, err := historyDocument(exec)
		if err != nil {
			return err
		}
		if *trail {
			rows, err := st.ListStepExecutions(ctx, exec.ID)
			if err != nil {
				return err
			}
			trailDoc, err := toJSONValue(rows)
			if err != nil {
				return err
			}
			doc["trail"] = trailDoc
		}
		docs = append(docs, doc)
	}

	results, err := filterHistory(ctx, docs, *jqExpr)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// filterHistory runs a jq expression over the run list and collects every
// output. The input is the whole array, so filters like ".[0]" or
// "[.[] | select(.status == \"error\")]" work as they would in jq.
func filterHistory(ctx context.Context, docs []any, expr string) ([]any, error) {
	if expr == "" {
		expr = "."
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("jq parse error in %q: %w", expr, err)
	}
	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, fmt.Errorf("jq compile error in %q: %w", expr, err)
	}

	iter := code.RunWithContext(ctx, docs)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, fmt.Errorf("jq evaluation failed for %q: %w", expr, err)
		}
		results = append(results, val)
	}
	return results, nil
}

// historyDocument converts an execution into the plain-JSON shape jq expects.
func historyDocument(exec *schema.Execution) (map[string]any, error) {
	v, err := toJSONValue(exec)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("execution %s did not marshal to an object", exec.ID)
	}
	return doc, nil
}

// toJSONValue round-trips v through encoding/json so every value is one of the
// plain types gojq accepts.
func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
