package pipeline

import (
	"fmt"
	"strings"
)

func printSummary(s Summary) {
	fmt.Println("\n" + strings.Repeat("=", 45))
	fmt.Println("📊 SUBSCRIPTION SUMMARY")
	fmt.Println(strings.Repeat("-", 45))
	fmt.Printf("%-25s : %d\n", "Users", s.Users)
	fmt.Printf("%-25s : %d\n", "Blocked", s.Blocked)
	if len(s.Changed) > 0 {
		fmt.Printf("%-25s : %s\n", "Changed", strings.Join(s.Changed, ", "))
	}
	if len(s.Harvest) > 0 {
		fmt.Println(strings.Repeat("-", 45))
		total := 0
		for _, st := range s.Harvest {
			fmt.Printf("%-25s : %d\n", st.Channel, st.Found)
			total += st.Found
		}
		fmt.Printf("TOTAL FOUND: %d\n", total)
	}
	if s.ServersRan {
		fmt.Println(strings.Repeat("-", 45))
		fmt.Printf("%-25s : %d\n", "Live servers", s.Servers.Live)
		fmt.Printf("%-25s : %d\n", "Quarantined", s.Servers.Quarantined)
		fmt.Printf("%-25s : %d\n", "Restored", s.Servers.Restored)
		fmt.Printf("%-25s : %d\n", "Removed for good", s.Servers.Expired)
		fmt.Printf("%-25s : %d\n", "Fakes dropped", s.Servers.Fake)
	}
	fmt.Println(strings.Repeat("-", 45))
	fmt.Printf("%-25s : %d new, %d updated, %d unchanged\n", "Subscriptions", s.Publish.Created, s.Publish.Updated, s.Publish.Unchanged)
	if s.ClashProxies > 0 {
		fmt.Printf("%-25s : %d\n", "Clash proxies", s.ClashProxies)
	}
	fmt.Println(strings.Repeat("=", 45) + "\n")
}
