// Command progressctl runs report jobs by hand and manages identities and exports.
package main

func main() {
	execute()
}
