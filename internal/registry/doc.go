// Package registry is a client for the npm download statistics API.
//
// Only the "point" endpoint is used:
//
//	GET /downloads/point/{period}/{package}
//
// Each call makes exactly one attempt. A 404 whose error message mentions
// "no stats" is the registry's way of saying a package has no downloads yet
// for the period, so it is reported as a zero count rather than an error.
//
// # Usage
//
//	client := registry.NewClient(registry.DefaultOptions())
//	point, err := client.PointDownloads(ctx, config.LastWeek, "left-pad")
//	// point.Downloads, point.NoStats
package registry
