package pipeline

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"

	"github.com/naia-systems/naia-stack/internal/config"
	"github.com/naia-systems/naia-stack/internal/logging"
	"github.com/naia-systems/naia-stack/internal/messaging"
	"github.com/naia-systems/naia-stack/internal/models"
	"github.com/naia-systems/naia-stack/internal/repository"
)

// ClusterStage groups correlated, co-named points into candidate equipment
// clusters. Every accepted group becomes a new immutable cluster record;
// prior detections are never merged or edited.
type ClusterStage struct {
	cfg          config.ClusterConfig
	points       repository.PointStore
	correlations repository.CorrelationStore
	clusters     repository.ClusterStore
	pub          messaging.Publisher
	log          *logging.Logger
	now          clock

	// source tags which pathway triggered detection; the scheduled stage
	// uses continuous, import/discovery/manual callers construct their own.
	source string
}

// NewClusterStage wires the cluster detector for the continuous pathway.
func NewClusterStage(
	cfg config.ClusterConfig,
	points repository.PointStore,
	correlations repository.CorrelationStore,
	clusters repository.ClusterStore,
	pub messaging.Publisher,
	log *logging.Logger,
) *ClusterStage {
	return &ClusterStage{
		cfg:          cfg,
		points:       points,
		correlations: correlations,
		clusters:     clusters,
		pub:          pub,
		log:          log,
		now:          utcNow,
		source:       models.SourceContinuous,
	}
}

// Name implements Stage.
func (s *ClusterStage) Name() string { return StageCluster }

// Run detects clusters from the current correlation graph and naming signal.
func (s *ClusterStage) Run(ctx context.Context) (models.RunSummary, error) {
	startedAt := s.now()

	edges, err := s.correlations.ListCorrelationEdges(ctx)
	if err != nil {
		return summarize(StageCluster, startedAt, s.now(), 0, 0, 1), err
	}
	points, err := s.points.ListEnabledPoints(ctx)
	if err != nil {
		return summarize(StageCluster, startedAt, s.now(), 0, 0, 1), err
	}

	names := make(map[string]string, len(points))
	for _, p := range points {
		names[p.ID] = p.Name
	}

	groups := detectGroups(edges, names, s.cfg.PrefixMinTokens)

	var processed, skipped, errCount int
	for _, group := range groups {
		if ctx.Err() != nil {
			return summarize(StageCluster, startedAt, s.now(), processed, skipped, errCount), ctx.Err()
		}

		cohesion, avgCorr := groupCohesion(group, edges)
		if len(group) < s.cfg.MinMembers || cohesion < s.cfg.MinCohesion {
			skipped++
			continue
		}

		memberNames := make([]string, 0, len(group))
		for _, id := range group {
			if name, ok := names[id]; ok {
				memberNames = append(memberNames, name)
			}
		}

		c := &models.Cluster{
			ID:             uuid.NewString(),
			Source:         s.source,
			PointIDs:       group,
			PointNames:     memberNames,
			AvgCorrelation: avgCorr,
			Cohesion:       models.ClampScore(cohesion),
			NamePrefix:     commonNamePrefix(memberNames),
			CreatedAt:      s.now(),
		}
		if err := s.clusters.CreateCluster(ctx, c); err != nil {
			errCount++
			s.log.WarnContext(ctx, "failed to create cluster", "error", err)
			continue
		}
		processed++

		if err := s.pub.Publish(ctx, messaging.SubjectClusterCreated, c); err != nil {
			errCount++
			s.log.WarnContext(ctx, "failed to publish cluster event", "cluster_id", c.ID, "error", err)
		}
	}

	return summarize(StageCluster, startedAt, s.now(), processed, skipped, errCount), nil
}

// detectGroups forms connected components over the correlation graph, then
// joins components whose members share a naming prefix. The naming signal
// only applies to points that carry at least one significant edge, so dead
// points are never pulled into a cluster by name alone.
func detectGroups(edges []models.CorrelationEdge, names map[string]string, prefixMinTokens int) [][]string {
	uf := newUnionFind()
	for _, e := range edges {
		uf.union(e.PointA, e.PointB)
	}

	byPrefix := map[string][]string{}
	for id := range uf.parent {
		if key := namePrefixKey(names[id], prefixMinTokens); key != "" {
			byPrefix[key] = append(byPrefix[key], id)
		}
	}
	for _, ids := range byPrefix {
		for i := 1; i < len(ids); i++ {
			uf.union(ids[0], ids[i])
		}
	}

	components := map[string][]string{}
	for id := range uf.parent {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	groups := make([][]string, 0, len(components))
	for _, group := range components {
		sort.Strings(group)
		groups = append(groups, group)
	}
	// Deterministic order for logging and tests.
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// groupCohesion returns the mean |r| over all member pairs (missing pairs
// count as 0) and the mean |r| over the pairs that do have an edge.
func groupCohesion(group []string, edges []models.CorrelationEdge) (cohesion, avgEdge float64) {
	n := len(group)
	if n < 2 {
		return 0, 0
	}

	members := make(map[string]bool, n)
	for _, id := range group {
		members[id] = true
	}

	var sum float64
	var edgeCount int
	for _, e := range edges {
		if members[e.PointA] && members[e.PointB] {
			sum += math.Abs(e.Coefficient)
			edgeCount++
		}
	}

	totalPairs := n * (n - 1) / 2
	cohesion = sum / float64(totalPairs)
	if edgeCount > 0 {
		avgEdge = sum / float64(edgeCount)
	}
	return cohesion, avgEdge
}

// unionFind is a plain disjoint-set over point ids.
type unionFind struct {
	parent map[string]string
}

func newUnionFind() *unionFind {
	return &unionFind{parent: map[string]string{}}
}

func (u *unionFind) find(x string) string {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
	}
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]] // path halving
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
