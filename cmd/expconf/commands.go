package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/eugenenazirov/expconf/internal/application"
	"github.com/eugenenazirov/expconf/internal/compose"
	"github.com/eugenenazirov/expconf/internal/query"
)

func listFamilies(app *application.App, out *printer) error {
	cat := app.Catalog()
	type familyView struct {
		Name   string              `json:"name" yaml:"name"`
		Groups map[string][]string `json:"groups" yaml:"groups"`
	}

	views := make([]familyView, 0)
	for _, name := range cat.Families() {
		groups, err := cat.Groups(name)
		if err != nil {
			return err
		}
		views = append(views, familyView{Name: name, Groups: groups})
	}
	if out.format == formatJSON {
		return out.value(views)
	}

	for _, v := range views {
		out.line("%s", v.Name)
		keys := make([]string, 0, len(v.Groups))
		for g := range v.Groups {
			keys = append(keys, g)
		}
		sort.Strings(keys)
		for _, g := range keys {
			label := g
			if label == "" {
				label = "(root)"
			}
			out.line("  %s: %s", label, strings.Join(v.Groups[g], ", "))
		}
	}
	return nil
}

func composeConfig(ctx context.Context, app *application.App, out *printer, req compose.Request, resolve bool) error {
	res, err := app.Composer().Build(ctx, req)
	if err != nil {
		return err
	}
	if !resolve {
		return out.value(res.Config)
	}
	if err := app.Composer().Resolve(res); err != nil {
		return err
	}
	return out.value(res.Resolved)
}

func validateConfig(ctx context.Context, app *application.App, out *printer, req compose.Request) error {
	checked, err := app.Check(ctx, req)
	if err != nil {
		return err
	}
	if out.format == formatJSON {
		if err := out.value(map[string]any{
			"family":  req.Family,
			"valid":   checked.Report.Valid(),
			"issues":  checked.Report.Issues,
			"choices": checked.Result.Choices,
		}); err != nil {
			return err
		}
	} else if checked.Report.Valid() {
		out.line("%s: valid", req.Family)
	} else {
		for _, issue := range checked.Report.Issues {
			out.line("%s", issue.Error())
		}
	}

	if !checked.Report.Valid() {
		return fmt.Errorf("%w: %d issue(s)", errCheckFailed, len(checked.Report.Issues))
	}
	return nil
}

func queryConfig(ctx context.Context, app *application.App, out *printer, req compose.Request, path string) error {
	res, err := app.Composer().Build(ctx, req)
	if err != nil {
		return err
	}
	if err := app.Composer().Resolve(res); err != nil {
		return err
	}
	matches, err := query.Find(res.Resolved, path)
	if err != nil {
		return err
	}
	if len(matches) == 1 {
		return out.value(matches[0])
	}
	return out.value(matches)
}

func prepareRun(ctx context.Context, app *application.App, out *printer, req compose.Request) error {
	run, err := app.Prepare(ctx, req)
	if errors.Is(err, application.ErrInvalidConfig) && run.Result != nil {
		for _, issue := range run.Report.Issues {
			out.line("%s", issue.Error())
		}
	}
	if err != nil {
		return err
	}
	if out.format == formatJSON {
		return out.value(struct {
			Dir     string            `json:"dir"`
			Devices map[string]string `json:"devices"`
		}{Dir: run.Dir, Devices: run.Devices})
	}

	out.line("%s", run.Dir)
	keys := make([]string, 0, len(run.Devices))
	for key := range run.Devices {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.line("  %s: %s", key, run.Devices[key])
	}
	return nil
}
