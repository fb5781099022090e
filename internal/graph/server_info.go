package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ServerInfo describes the store the client is connected to
type ServerInfo struct {
	Name    string
	Version string
	Edition string

	// Cluster topology; single-node stores report one leader
	IsCluster        bool
	LeaderCount      int
	FollowerCount    int
	ReadReplicaCount int
}

// Major returns the leading version number, or 0 if it cannot be parsed
func (s ServerInfo) Major() int {
	var major int
	if _, err := fmt.Sscanf(s.Version, "%d.", &major); err != nil {
		return 0
	}
	return major
}

// String formats the server for display
func (s ServerInfo) String() string {
	out := fmt.Sprintf("%s %s (%s)", s.Name, s.Version, s.Edition)
	if s.IsCluster {
		out += fmt.Sprintf(", cluster: %d leader / %d follower / %d read replica",
			s.LeaderCount, s.FollowerCount, s.ReadReplicaCount)
	}
	return out
}

// ServerInfo reads dbms.components and, where permitted, the cluster overview.
// A store that refuses the overview query is treated as a single node.
func (c *Client) ServerInfo(ctx context.Context) (ServerInfo, error) {
	rows, err := c.Query(ctx, Statement{
		Name:   "server-info",
		Cypher: "CALL dbms.components() YIELD name, versions, edition RETURN name, versions[0], edition",
	})
	if err != nil {
		return ServerInfo{}, err
	}
	if len(rows) == 0 || len(rows[0]) < 3 {
		return ServerInfo{}, fmt.Errorf("dbms.components returned no rows")
	}

	info := ServerInfo{LeaderCount: 1}
	info.Name, _ = rows[0][0].(string)
	info.Version, _ = rows[0][1].(string)
	info.Edition, _ = rows[0][2].(string)

	if !strings.EqualFold(info.Edition, "enterprise") {
		return info, nil
	}

	result, err := neo4j.ExecuteQuery(ctx, c.driver,
		"CALL dbms.cluster.overview() YIELD role RETURN role, count(*) AS count", nil,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(c.database))
	if err != nil {
		c.logger.Debug("cluster overview unavailable, assuming single node", "error", err)
		return info, nil
	}

	info.IsCluster = true
	info.LeaderCount = 0
	for _, record := range result.Records {
		role, _ := record.Get("role")
		count, _ := record.Get("count")
		n, _ := count.(int64)

		switch role {
		case "LEADER", "PRIMARY":
			info.LeaderCount += int(n)
		case "FOLLOWER":
			info.FollowerCount += int(n)
		case "READ_REPLICA", "SECONDARY":
			info.ReadReplicaCount += int(n)
		}
	}
	return info, nil
}
