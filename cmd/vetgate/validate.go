package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/vetgate/vetgate/internal/datasources"
	"github.com/vetgate/vetgate/internal/points"
	"github.com/vetgate/vetgate/internal/store"
	"github.com/vetgate/vetgate/internal/validation"
	"github.com/vetgate/vetgate/pkg/schema"
)

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	dbPath := fs.String("db", "", "database path (overrides config)")
	all := fs.Bool("all", false, "validate every stored workflow")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*all && fs.NArg() == 0 {
		return fmt.Errorf("usage: vetgate validate [-db path] (-all | <workflow_id>...)")
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

	sources := datasources.NewRegistry(nil)
	pointReg := points.NewRegistry(nil)
	if err := registerConfigured(cfg, sources, pointReg); err != nil {
		return err
	}
	checker := validation.NewChecker(sources, pointReg)

	var workflows []*schema.Workflow
	if *all {
		workflows, err = st.ListWorkflows(ctx)
		if err != nil {
			return err
		}
	} else {
		for _, id := range fs.Args() {
			wf, err := st.GetWorkflow(ctx, id)
			if err != nil {
				return err
			}
			workflows = append(workflows, wf)
		}
	}

	invalid := 0
	for _, wf := range workflows {
		steps, err := st.StepsForWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		result := checker.ValidateWorkflow(wf, steps)
		if result.Valid() && len(result.Warnings) == 0 {
			fmt.Printf("%s (%s): ok\n", wf.ID, wf.Name)
			continue
		}
		if !result.Valid() {
			invalid++
		}
		for _, issue := range result.Errors {
			fmt.Printf("%s (%s): error [%s] %s\n", wf.ID, wf.Name, issue.Code, issue.Message)
		}
		for _, issue := range result.Warnings {
			fmt.Printf("%s (%s): warning [%s] %s\n", wf.ID, wf.Name, issue.Code, issue.Message)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("%d workflow(s) failed validation", invalid)
	}
	return nil
}
