package queryset

import (
	"fmt"
	"sort"
	"strings"
)

const (
	LatestBlock = "latest-block"
	P2PLending  = "p2p-lending"
)

var builtins = map[string]Set{
	LatestBlock: {
		Name: LatestBlock,
		Queries: []QuerySpec{
			{
				ID:          "latest-block",
				Description: "Get details for the latest block",
				Text:        "Get details for the latest block on the current network.",
			},
		},
	},
	P2PLending: {
		Name: P2PLending,
		Queries: []QuerySpec{
			{
				ID:          "registry-status",
				Description: "UserRegistry: registration status of the deployer",
				Text: "Has address {{.Addresses.Deployer}} been registered in the UserRegistry contract at {{.Contracts.UserRegistry}}? " +
					"If so, what is their World ID Nullifier Hash according to the 'UserRegistered' events? Only use the get_address_logs tool.",
			},
			{
				ID:          "reputation-updates",
				Description: "Reputation: recent reputation updates for the borrower",
				Text: "Show the recent 'ReputationUpdated' event logs for address {{.Addresses.Borrower}} from the Reputation contract at {{.Contracts.Reputation}}. " +
					"What were the reasons and new scores? Only use the get_address_logs tool.",
			},
			{
				ID:          "vouches",
				Description: "Reputation: vouches given by the voucher",
				Text: "List the 'VouchAdded' event logs where {{.Addresses.Voucher}} is the voucher, from the Reputation contract at {{.Contracts.Reputation}}. " +
					"Who did they vouch for and with what tokens/amounts? Only use the get_address_logs tool.",
			},
			{
				ID:          "loan-offers",
				Description: "P2PLending: recent LoanOfferCreated events",
				Text: "List the 5 most recent 'LoanOfferCreated' event logs from the P2PLending contract at {{.Contracts.P2PLending}}. " +
					"For each offer, state the lender, amount, token, interest rate, and duration. Only use the get_address_logs tool.",
			},
			{
				ID:          "loan-agreements",
				Description: "P2PLending: LoanAgreementFormed events for the borrower",
				Text: "Search for 'LoanAgreementFormed' event logs where {{.Addresses.Borrower}} is the borrower, from the P2PLending contract at {{.Contracts.P2PLending}}. " +
					"List any agreements found. Only use the get_address_logs tool.",
			},
			{
				ID:          "borrower-standing",
				Description: "Combined: borrower reputation and default status",
				Text: "First, get 'ReputationUpdated' events for user {{.Addresses.Borrower}} from the Reputation contract at {{.Contracts.Reputation}} to understand their latest reputation score. " +
					"Second, get 'LoanAgreementDefaulted' events where {{.Addresses.Borrower}} is the borrower from the P2PLending contract at {{.Contracts.P2PLending}}. " +
					"Based on these, what is the latest known reputation score and are there any recorded defaulted loans? " +
					"Use only the get_address_logs tool for each contract, and call it only once per contract.",
			},
		},
	},
}

// Builtin returns a copy of a built-in query set.
func Builtin(name string) (*Set, error) {
	set, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownSet, name, strings.Join(BuiltinNames(), ", "))
	}
	queries := make([]QuerySpec, len(set.Queries))
	copy(queries, set.Queries)
	return &Set{Name: set.Name, Queries: queries}, nil
}

// BuiltinNames lists the built-in sets in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Activity builds the user activity summary query over the configured
// contracts. Contracts are listed by name in sorted order.
func Activity(user string, contracts map[string]string) (QuerySpec, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return QuerySpec{}, fmt.Errorf("%w: user address is required", ErrEmptyQuery)
	}
	if len(contracts) == 0 {
		return QuerySpec{}, fmt.Errorf("no contracts configured for activity analysis")
	}

	names := make([]string, 0, len(contracts))
	for name := range contracts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the activity for user address %s interacting with the following smart contracts:\n", user)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %s\n", name, contracts[name])
	}
	b.WriteString("\nFollow these steps:\n")
	fmt.Fprintf(&b, "1. Get all transactions for %s using the get_address_transactions tool.\n", user)
	fmt.Fprintf(&b, "2. From these transactions, identify those where %s is the sender or recipient and the other side is one of the contracts listed above.\n", user)
	b.WriteString("3. For each of these relevant transactions, get its event logs using the get_transaction_logs tool.\n")
	b.WriteString("4. Based on the decoded event logs, provide a concise summary of the user's lifecycle and key activities with these contracts. ")
	b.WriteString("Highlight how many loans they created, participated in as a borrower or lender/voucher, and their repayment status if discernible.\n")
	b.WriteString("5. If no relevant activity is found, state that clearly.\n")
	b.WriteString("Provide only the summary of activities.")

	return QuerySpec{
		ID:          "activity",
		Description: "Activity summary for " + user,
		Text:        b.String(),
	}, nil
}
