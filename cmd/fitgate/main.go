// Package main is the entry point for FitGate, the credential and quota
// governance service for fitness-data MCP tool gateways.
package main

func main() {
	Execute()
}
