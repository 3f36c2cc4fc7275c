// Package client is the Go SDK for the toolgate registry HTTP API.
//
// It covers the authenticated control surface (servers, agents, search,
// discovery, scans) plus the public read-only catalog.
//
// # Connecting
//
//	c := client.New("http://localhost:8080",
//	    client.WithBearerToken(os.Getenv("TOOLGATE_TOKEN")),
//	)
//
// # Registering a tool server
//
//	srv, err := c.RegisterServer(ctx, client.RegisterServerRequest{
//	    Name:     "Context7",
//	    Path:     "/context7",
//	    ProxyURL: "http://localhost:9100",
//	    Tags:     []string{"docs", "search"},
//	})
//
// New servers start disabled; enable after review:
//
//	enabled, err := c.ToggleServer(ctx, "/context7", true)
//
// # Discovery
//
// Hybrid semantic search across servers, tools, and agents:
//
//	res, err := c.Search(ctx, "summarize pdf documents", nil, 10)
//
// Skill-based agent discovery:
//
//	agents, err := c.Discover(ctx, []string{"summarization"}, nil, 5)
//
// # Public catalog
//
// No token is required for the catalog:
//
//	page, err := client.New(base).CatalogServers(ctx, "", 30)
package client
