package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/onnwee/nestscout/internal/api"
	"github.com/onnwee/nestscout/internal/catalog"
	"github.com/onnwee/nestscout/internal/geo"
	"github.com/onnwee/nestscout/internal/scoring"
)

const maxTitleWidth = 35

// newFlagSet returns a subcommand flag set that reports errors to stderr.
func (c *cli) newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: scorer %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses flags and positionals in any order and checks the number of
// positional arguments.
func parse(fs *flag.FlagSet, args []string, positionals int) ([]string, error) {
	var rest []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		if fs.NArg() == 0 {
			break
		}
		rest = append(rest, fs.Arg(0))
		args = fs.Args()[1:]
	}
	if len(rest) != positionals {
		fs.Usage()
		return nil, errUsage
	}
	return rest, nil
}

func parseProfileID(fs *flag.FlagSet, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(fs.Output(), "invalid profile id %q\n", s)
		return 0, errUsage
	}
	return id, nil
}

func runCompute(c *cli, args []string) error {
	fs := c.newFlagSet("compute", "<profile_id>")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	profileID, err := parseProfileID(fs, pos[0])
	if err != nil {
		return err
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Computing scores for profile %d...\n", profileID)
	count, err := a.Engine.ComputeProfile(c.ctx, profileID)
	if err != nil {
		if errors.Is(err, scoring.ErrProfileNotFound) {
			return fmt.Errorf("profile %d not found", profileID)
		}
		return err
	}
	if count == 0 {
		fmt.Fprintln(c.stdout, "No properties scored. Check that the catalog has listings.")
		return nil
	}
	fmt.Fprintf(c.stdout, "Scored %d properties.\n", count)
	return nil
}

func runRanked(c *cli, args []string) error {
	fs := c.newFlagSet("ranked", "<profile_id> [--limit 20]")
	limit := fs.Int("limit", 20, "number of results")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	profileID, err := parseProfileID(fs, pos[0])
	if err != nil {
		return err
	}
	if *limit <= 0 {
		fmt.Fprintln(c.stderr, "--limit must be positive")
		return errUsage
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	ranked, err := a.Engine.RankedFor(c.ctx, profileID, *limit)
	if err != nil {
		if errors.Is(err, scoring.ErrProfileNotFound) {
			return fmt.Errorf("profile %d not found", profileID)
		}
		return err
	}
	if len(ranked) == 0 {
		fmt.Fprintf(c.stdout, "No scores found. Run 'scorer compute %d' first.\n", profileID)
		return nil
	}

	fmt.Fprintf(c.stdout, "Properties ranked by profile %d\n\n", profileID)
	writeRanked(c.stdout, ranked)
	return nil
}

func writeRanked(w io.Writer, ranked []scoring.RankedListing) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tID\tTITLE\tPRICE\tCITY")
	for i, r := range ranked {
		fmt.Fprintf(tw, "%d\t%5.1f\t%d\t%s\t%s\t%s\n",
			i+1, r.Score.TotalScore, r.ID, truncate(r.Title, maxTitleWidth), formatPrice(r.Price), dash(r.City))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	digits := strconv.FormatFloat(*p, 'f', 0, 64)
	neg := strings.HasPrefix(digits, "-")
	digits = strings.TrimPrefix(digits, "-")
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runRecalc(c *cli, args []string) error {
	fs := c.newFlagSet("recalc", "[--yes]")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}

	if !*yes {
		fmt.Fprint(c.stdout, "Recalculate scores for ALL profiles? [y/N]: ")
		answer, _ := bufio.NewReader(c.stdin).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
		default:
			fmt.Fprintln(c.stdout, "Aborted.")
			return nil
		}
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	profiles, err := a.Profiles.ListProfiles(c.ctx)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Fprintln(c.stdout, "No profiles found.")
		return nil
	}

	counts, err := a.Engine.RecomputeAll(c.ctx)
	total := 0
	for _, p := range profiles {
		n, ok := counts[p.ID]
		if !ok {
			continue
		}
		total += n
		fmt.Fprintf(c.stdout, "  Profile '%s' (ID %d): %d properties scored\n", p.Name, p.ID, n)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "\nRecalculation complete: %d total scores updated.\n", total)
	return nil
}

func runNearby(c *cli, args []string) error {
	fs := c.newFlagSet("nearby", "--lat --lng [--radius 1000] [--category id]")
	lat := fs.Float64("lat", 0, "latitude of the centre (required)")
	lng := fs.Float64("lng", 0, "longitude of the centre (required)")
	radius := fs.Float64("radius", api.DefaultNearbyRadiusM, "search radius in metres")
	category := fs.Int64("category", catalog.AnyCategory, "restrict to one POI category")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	center := geo.Coordinate{Lat: *lat, Lng: *lng}
	switch {
	case !set["lat"] || !set["lng"]:
		fmt.Fprintln(c.stderr, "--lat and --lng are required")
		return errUsage
	case !center.Valid():
		fmt.Fprintln(c.stderr, "coordinates out of range")
		return errUsage
	case *radius <= 0 || *radius > api.MaxNearbyRadiusM:
		fmt.Fprintf(c.stderr, "--radius must be in (0, %.0f]\n", api.MaxNearbyRadiusM)
		return errUsage
	case *category < 0:
		fmt.Fprintln(c.stderr, "--category must not be negative")
		return errUsage
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	items := api.NearbyItems(a.Index.FindNearby(center, *radius, *category))
	if len(items) == 0 {
		fmt.Fprintln(c.stdout, "No POIs found.")
		return nil
	}

	categories, err := a.Catalog.ListCategories(c.ctx)
	if err != nil {
		return err
	}
	names := make(map[int64]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tDISTANCE_M\tWALK_MIN")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%.1f\n",
			it.ID, truncate(it.Name, maxTitleWidth), dash(names[it.CategoryID]), it.DistanceM, it.WalkTimeMin)
	}
	return tw.Flush()
}

func runDistances(c *cli, args []string) error {
	fs := c.newFlagSet("distances", "[--radius 2000]")
	radius := fs.Float64("radius", 0, "precompute radius in metres (default from config)")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	if *radius < 0 {
		fmt.Fprintln(c.stderr, "--radius must not be negative")
		return errUsage
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	res, err := a.Precomputer(*radius).Run(c.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "Stored %d distances for %d listings (%d unlocated) in %s.\n",
		res.Distances, res.Listings, res.Skipped, res.Duration.Round(time.Millisecond))
	return nil
}

func runExport(c *cli, args []string) error {
	fs := c.newFlagSet("export", "<profile_id>")
	pos, err := parse(fs, args, 1)
	if err != nil {
		return err
	}
	profileID, err := parseProfileID(fs, pos[0])
	if err != nil {
		return err
	}

	a, err := c.open()
	if err != nil {
		return err
	}
	exp, err := a.Exporter()
	if err != nil {
		return err
	}
	res, err := exp.Export(c.ctx, profileID)
	if err != nil {
		if errors.Is(err, scoring.ErrProfileNotFound) {
			return fmt.Errorf("profile %d not found", profileID)
		}
		return err
	}
	fmt.Fprintf(c.stdout, "Exported %d ranked listings to %s (%d bytes).\n", res.Count, res.Key, res.Bytes)
	return nil
}

func runSeed(c *cli, args []string) error {
	fs := c.newFlagSet("seed", "")
	if _, err := parse(fs, args, 0); err != nil {
		return err
	}
	if c.seedPath == "" {
		fmt.Fprintln(c.stderr, "seed requires --seed <file>")
		return errUsage
	}

	seed, err := catalog.LoadSeed(c.seedPath)
	if err != nil {
		return err
	}

	// The seed file is the input here, not the backing store.
	path := c.seedPath
	c.seedPath = ""
	a, err := c.open()
	c.seedPath = path
	if err != nil {
		return err
	}

	if err := seed.Apply(c.ctx, a.Catalog); err != nil {
		return err
	}
	if err := scoring.ApplySeed(c.ctx, a.Profiles, seed.Profiles); err != nil {
		return fmt.Errorf("failed to seed profiles: %w", err)
	}

	fmt.Fprintf(c.stdout, "Seeded %d categories, %d listings, %d POIs and %d profiles.\n",
		len(seed.Categories), len(seed.Listings), len(seed.POIs), len(seed.Profiles))
	return nil
}
