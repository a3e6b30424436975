package cache

import (
	"fmt"
	"strings"
)

// 键语义：
// - roomKey(docID):            房间在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(docID):           房间内 userId→username 映射（Hash）
// - selectorsKey(docID):       选择器占用（Hash<"userId:selector" -> annotationId>）
// - annotationIndexKey(docID): 批注区间索引（String，JSON）
// - annotationFloorKey(docID): 索引可回填的最低版本（String），与索引同一 slot

const (
	keyRoomPrefix      = "presence:room:{docID:"
	keyRoomFmt         = keyRoomPrefix + "%s}"             // ZSet<userId, expireAtUnix>
	keyNamesFmt        = "presence:room:names:{docID:%s}" // Hash<userId -> username>
	keySelectorsFmt    = "presence:selectors:{docID:%s}"   // Hash<userId:selector -> annotationId>
	keyAnnotationIndex = "annotations:index:{docID:%s}"    // String<json>
	keyAnnotationFloor = "annotations:floor:{docID:%s}"    // String<revision>
)

func roomKey(docID string) string            { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string           { return fmt.Sprintf(keyNamesFmt, docID) }
func selectorsKey(docID string) string       { return fmt.Sprintf(keySelectorsFmt, docID) }
func annotationIndexKey(docID string) string { return fmt.Sprintf(keyAnnotationIndex, docID) }
func annotationFloorKey(docID string) string { return fmt.Sprintf(keyAnnotationFloor, docID) }

// docIDFromRoomKey presence:room:{docID:xxx} -> xxx
func docIDFromRoomKey(k string) string {
	if !strings.HasPrefix(k, keyRoomPrefix) || !strings.HasSuffix(k, "}") {
		return ""
	}
	return strings.TrimSuffix(strings.TrimPrefix(k, keyRoomPrefix), "}")
}

func selectorField(userID uint64, selector string) string {
	return fmt.Sprintf("%d:%s", userID, selector)
}
