package domain

import "strings"

const (
	platesCollectionBase     = "licensePlates"
	householdsCollectionBase = "households"
	lookupCollectionBase     = "parking_lookup"
)

// Community 社区命名空间；Suffix 区分同一库里不同社区的集合
type Community struct {
	Suffix string
}

// CommunityFromCollection 由车牌集合名（如 "licensePlates_b"）推出社区
func CommunityFromCollection(plates string) Community {
	return Community{Suffix: strings.TrimPrefix(plates, platesCollectionBase)}
}

func (c Community) PlatesCollection() string     { return platesCollectionBase + c.Suffix }
func (c Community) HouseholdsCollection() string { return householdsCollectionBase + c.Suffix }
func (c Community) LookupCollection() string     { return lookupCollectionBase + c.Suffix }
