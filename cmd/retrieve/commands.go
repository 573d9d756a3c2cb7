package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gofhir/retrieve"
)

// planOutput is the JSON written by "retrieve plan".
type planOutput struct {
	Plan     map[string]string   `json:"plan"`
	Query    string              `json:"query"`
	Params   map[string][]string `json:"params,omitempty"`
	Filtered bool                `json:"filtered"`
}

func planCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <criterion.json>",
		Short: "Print the strategy per dimension and the repository query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCriterion(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.Close()

			res, err := st.engine.Plan(cmd.Context(), c)
			if err != nil {
				return err
			}
			out := planOutput{
				Plan:     make(map[string]string, len(retrieve.Dimensions)),
				Query:    res.Query.String(),
				Params:   res.Query.Encode(),
				Filtered: res.IsFiltered(),
			}
			for _, d := range retrieve.Dimensions {
				out.Plan[d.String()] = res.Plan.Strategy(d).String()
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
}

func runCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "run <criterion.json>",
		Short: "Retrieve matching resources and write them as NDJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readCriterion(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			st, err := buildStack(cmd.Context(), a.cfg, a.log)
			if err != nil {
				return err
			}
			defer st.Close()
			defer a.serveMetrics(st)()

			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			for r, err := range st.engine.Retrieve(cmd.Context(), c) {
				if err != nil {
					return err
				}
				if err := enc.Encode(r); err != nil {
					return fmt.Errorf("write resource: %w", err)
				}
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			a.log.Info().Int("resources", n).Str("type", c.DataType).Msg("retrieve finished")
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many resources")
	return cmd
}

// readCriterion decodes a criterion from path, or from stdin when path is
// "-". Unknown fields are rejected.
func readCriterion(stdin io.Reader, path string) (retrieve.Criterion, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return retrieve.Criterion{}, fmt.Errorf("read criterion: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var c retrieve.Criterion
	if err := dec.Decode(&c); err != nil {
		return retrieve.Criterion{}, fmt.Errorf("decode criterion: %w", err)
	}
	if err := c.Validate(); err != nil {
		return retrieve.Criterion{}, err
	}
	return c, nil
}
