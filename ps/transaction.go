package ps

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// Transaction identifies one archive commit.
type Transaction struct {
	Id     string
	When   time.Time
	Author string // "Name <email>" format
}

func (transaction Transaction) String() string {
	return fmt.Sprintf("Transaction{Id: %s, When: %s, Author: %s}", transaction.Id, transaction.When, transaction.Author)
}

func transactionOf(c *object.Commit) Transaction {
	author := ""
	if c.Author.Name != "" || c.Author.Email != "" {
		author = fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email)
	}
	return Transaction{
		Id:     c.Hash.String(),
		When:   c.Committer.When,
		Author: author,
	}
}

// LatestTransaction returns the archive's HEAD commit, or the zero
// Transaction when nothing has been committed yet.
func (persistence *Persistence) LatestTransaction() Transaction {
	headRef, err := persistence.repo.Head()
	if err != nil || headRef == nil {
		return Transaction{}
	}

	commit, err := persistence.repo.CommitObject(headRef.Hash())
	if err != nil {
		return Transaction{}
	}

	return transactionOf(commit)
}

// TransactionsSince lists commits newer than asof, latest first.
func (persistence *Persistence) TransactionsSince(asof time.Time) []Transaction {
	var transactions []Transaction

	cIter, _ := persistence.repo.Log(&git.LogOptions{
		Since: &asof,
	})

	cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, transactionOf(c))
		return nil
	})

	return transactions
}

// TransactionsFrom lists commits reachable from the given commit id,
// that commit first.
func (persistence *Persistence) TransactionsFrom(asof string) []Transaction {
	var transactions []Transaction

	cIter, _ := persistence.repo.Log(&git.LogOptions{
		From: plumbing.NewHash(asof),
	})

	cIter.ForEach(func(c *object.Commit) error {
		transactions = append(transactions, transactionOf(c))
		return nil
	})

	return transactions
}
