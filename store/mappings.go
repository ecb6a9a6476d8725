package store

import (
	. "github.com/russross/wimslti/types"
)

//
// LMS
//

func (s *Store) InsertLms(lms *Lms) error {
	now := s.now()
	lms.CreatedAt, lms.UpdatedAt = now, now
	return s.insert("lms", lms)
}

func (s *Store) LmsByID(id int64) (*Lms, error) {
	lms := new(Lms)
	return lms, s.queryRow(lms, `SELECT * FROM lms WHERE id = ?`, id)
}

func (s *Store) LmsByGUID(guid string) (*Lms, error) {
	lms := new(Lms)
	return lms, s.queryRow(lms, `SELECT * FROM lms WHERE guid = ?`, guid)
}

func (s *Store) LmsByKey(key string) (*Lms, error) {
	lms := new(Lms)
	return lms, s.queryRow(lms, `SELECT * FROM lms WHERE oauth_key = ?`, key)
}

func (s *Store) ListLms() ([]*Lms, error) {
	list := []*Lms{}
	return list, s.queryAll(&list, `SELECT * FROM lms ORDER BY name, id`)
}

//
// WIMS servers
//

func (s *Store) InsertServer(srv *WimsServer) error {
	now := s.now()
	srv.CreatedAt, srv.UpdatedAt = now, now
	return s.insert("wims_servers", srv)
}

func (s *Store) ServerByID(id int64) (*WimsServer, error) {
	srv := new(WimsServer)
	return srv, s.queryRow(srv, `SELECT * FROM wims_servers WHERE id = ?`, id)
}

// ListServers returns every server, or only those allowing lmsID when it is nonzero.
func (s *Store) ListServers(lmsID int64) ([]*WimsServer, error) {
	where, args := "", []interface{}{}
	if lmsID > 0 {
		where, args = addWhereEq(where, args, "wims_server_lms.lms_id", lmsID)
		where = " JOIN wims_server_lms ON wims_server_lms.wims_server_id = wims_servers.id" + where
	}
	list := []*WimsServer{}
	return list, s.queryAll(&list, `SELECT wims_servers.* FROM wims_servers`+where+` ORDER BY name, id`, args...)
}

// AllowLms lets an LMS create classes on a server. Allowing twice is harmless.
func (s *Store) AllowLms(serverID, lmsID int64) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO wims_server_lms (wims_server_id, lms_id) VALUES (?, ?)`, serverID, lmsID)
	return translate(err)
}

func (s *Store) IsAllowed(serverID, lmsID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM wims_server_lms WHERE wims_server_id = ? AND lms_id = ?`,
		serverID, lmsID).Scan(&n)
	return n > 0, translate(err)
}

//
// classes
//

func (s *Store) FindClass(serverID, lmsID int64, contextID string) (*ClassMapping, error) {
	class := new(ClassMapping)
	return class, s.queryRow(class,
		`SELECT * FROM class_mappings WHERE wims_server_id = ? AND lms_id = ? AND lms_context_id = ?`,
		serverID, lmsID, contextID)
}

func (s *Store) ClassByID(id int64) (*ClassMapping, error) {
	class := new(ClassMapping)
	return class, s.queryRow(class, `SELECT * FROM class_mappings WHERE id = ?`, id)
}

// ListClasses filters on server and LMS; a zero id matches everything.
func (s *Store) ListClasses(serverID, lmsID int64) ([]*ClassMapping, error) {
	where, args := "", []interface{}{}
	if serverID > 0 {
		where, args = addWhereEq(where, args, "wims_server_id", serverID)
	}
	if lmsID > 0 {
		where, args = addWhereEq(where, args, "lms_id", lmsID)
	}
	list := []*ClassMapping{}
	return list, s.queryAll(&list, `SELECT * FROM class_mappings`+where+` ORDER BY id`, args...)
}

func (s *Store) InsertClass(class *ClassMapping) error {
	now := s.now()
	class.CreatedAt, class.UpdatedAt = now, now
	return s.insert("class_mappings", class)
}

// DeleteClass removes a class mapping along with its users, activities,
// and grade links.
func (s *Store) DeleteClass(id int64) error {
	return s.deleteByID("class_mappings", id)
}

//
// users
//

func (s *Store) FindSupervisor(classID int64) (*UserMapping, error) {
	user := new(UserMapping)
	return user, s.queryRow(user,
		`SELECT * FROM user_mappings WHERE class_mapping_id = ? AND lms_user_id IS NULL`, classID)
}

func (s *Store) FindUserByLmsID(classID int64, lmsUserID string) (*UserMapping, error) {
	user := new(UserMapping)
	return user, s.queryRow(user,
		`SELECT * FROM user_mappings WHERE class_mapping_id = ? AND lms_user_id = ?`, classID, lmsUserID)
}

func (s *Store) FindUserByUsername(classID int64, username string) (*UserMapping, error) {
	user := new(UserMapping)
	return user, s.queryRow(user,
		`SELECT * FROM user_mappings WHERE class_mapping_id = ? AND remote_username = ?`, classID, username)
}

func (s *Store) ListUsers(classID int64) ([]*UserMapping, error) {
	list := []*UserMapping{}
	return list, s.queryAll(&list, `SELECT * FROM user_mappings WHERE class_mapping_id = ? ORDER BY id`, classID)
}

func (s *Store) InsertUser(user *UserMapping) error {
	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	return s.insert("user_mappings", user)
}

//
// activities
//

func (s *Store) FindActivity(classID int64, kind ActivityKind, remoteID int) (*ActivityMapping, error) {
	activity := new(ActivityMapping)
	return activity, s.queryRow(activity,
		`SELECT * FROM activity_mappings WHERE class_mapping_id = ? AND kind = ? AND remote_activity_id = ?`,
		classID, kind, remoteID)
}

// ListActivities returns the activities of one kind on one server, ordered
// by class.
func (s *Store) ListActivities(serverID int64, kind ActivityKind) ([]*ActivityMapping, error) {
	list := []*ActivityMapping{}
	return list, s.queryAll(&list,
		`SELECT activity_mappings.* FROM activity_mappings `+
			`JOIN class_mappings ON class_mappings.id = activity_mappings.class_mapping_id `+
			`WHERE class_mappings.wims_server_id = ? AND activity_mappings.kind = ? `+
			`ORDER BY activity_mappings.class_mapping_id, activity_mappings.id`,
		serverID, kind)
}

func (s *Store) InsertActivity(activity *ActivityMapping) error {
	now := s.now()
	activity.CreatedAt, activity.UpdatedAt = now, now
	return s.insert("activity_mappings", activity)
}

func (s *Store) UpdateActivity(activity *ActivityMapping) error {
	activity.UpdatedAt = s.now()
	return s.update("activity_mappings", activity)
}

//
// grade links
//

func (s *Store) FindGradeLink(userID, activityID int64) (*GradeLink, error) {
	link := new(GradeLink)
	return link, s.queryRow(link,
		`SELECT * FROM grade_links WHERE user_mapping_id = ? AND activity_mapping_id = ?`, userID, activityID)
}

func (s *Store) CountGradeLinks(activityID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM grade_links WHERE activity_mapping_id = ?`, activityID).Scan(&n)
	return n, translate(err)
}

func (s *Store) InsertGradeLink(link *GradeLink) error {
	now := s.now()
	link.CreatedAt, link.UpdatedAt = now, now
	return s.insert("grade_links", link)
}

func (s *Store) UpdateGradeLink(link *GradeLink) error {
	link.UpdatedAt = s.now()
	return s.update("grade_links", link)
}
