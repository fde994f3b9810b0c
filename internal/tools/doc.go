// Package tools runs host commands on behalf of workloads.
package tools
