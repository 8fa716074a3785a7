// Package access decides per-file management rights. Ownership comes from
// the source map's recorded user_id — the single authority for every path,
// web and API alike.
package access

import "github.com/SnowBall-Bqiu/IMHO/internal/keystore"

// CanManage reports whether the user may delete or otherwise manage a file
// owned by ownerUserID. Admins manage everything; regular users manage only
// their own uploads.
func CanManage(u *keystore.UserInfo, ownerUserID string) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin() {
		return true
	}
	return ownerUserID == u.UserID
}

// CanView mirrors CanManage: users see only their own files, admins see all.
func CanView(u *keystore.UserInfo, ownerUserID string) bool {
	return CanManage(u, ownerUserID)
}
