// Package partition assigns corpus lines to worker ranks.
//
// Line i belongs to rank i mod totalRanks. Interleaving rather than contiguous ranges spreads any
// skew in line length evenly over the ranks, and since the assignment is a pure function of its
// inputs every worker can compute its own share without talking to the others.
package partition

import (
	"github.com/pkg/errors"

	"github.com/zhichao-aws/opensearch-semantic-benchmarks-sample/internal/common/loaderrors"
)

// Assignment is the ascending list of line indices owned by one rank.
type Assignment []int

// Validate checks that rank is a valid member of a group of totalRanks workers.
func Validate(rank, totalRanks int) error {
	if totalRanks <= 0 {
		return errors.WithStack(&loaderrors.ErrInvalidPartition{Rank: rank, TotalRanks: totalRanks, Message: "totalRanks must be positive"})
	}
	if rank < 0 || rank >= totalRanks {
		return errors.WithStack(&loaderrors.ErrInvalidPartition{Rank: rank, TotalRanks: totalRanks, Message: "rank must be in [0, totalRanks)"})
	}
	return nil
}

// Partition returns the lines of [0, totalLines) owned by rank.
func Partition(totalLines, rank, totalRanks int) (Assignment, error) {
	if err := Validate(rank, totalRanks); err != nil {
		return nil, err
	}
	if totalLines < 0 {
		return nil, errors.WithStack(&loaderrors.ErrInvalidPartition{Rank: rank, TotalRanks: totalRanks, Message: "totalLines must not be negative"})
	}

	assignment := make(Assignment, 0, Size(totalLines, rank, totalRanks))
	for i := rank; i < totalLines; i += totalRanks {
		assignment = append(assignment, i)
	}
	return assignment, nil
}

// Size returns the number of lines owned by rank without materialising them.
func Size(totalLines, rank, totalRanks int) int {
	if totalRanks <= 0 || rank < 0 || rank >= totalLines {
		return 0
	}
	return (totalLines - rank + totalRanks - 1) / totalRanks
}
