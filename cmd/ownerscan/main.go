// ownerscan - EC2 ownership inventory
// Scan regions. Classify owner tags. Write the report.
package main

func main() {
	Execute()
}
