// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package merkle

import (
	reflect "reflect"

	gomock "go.uber.org/mock/gomock"
)

// MockDatabase is a mock of Database interface.
type MockDatabase struct {
	ctrl     *gomock.Controller
	recorder *MockDatabaseMockRecorder
}

// MockDatabaseMockRecorder is the mock recorder for MockDatabase.
type MockDatabaseMockRecorder struct {
	mock *MockDatabase
}

// NewMockDatabase creates a new mock instance.
func NewMockDatabase(ctrl *gomock.Controller) *MockDatabase {
	mock := &MockDatabase{ctrl: ctrl}
	mock.recorder = &MockDatabaseMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockDatabase) EXPECT() *MockDatabaseMockRecorder {
	return m.recorder
}

// ApplyPatch mocks base method.
func (m *MockDatabase) ApplyPatch(patch *PatchSet) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ApplyPatch", patch)
	ret0, _ := ret[0].(error)
	return ret0
}

// ApplyPatch indicates an expected call of ApplyPatch.
func (mr *MockDatabaseMockRecorder) ApplyPatch(patch any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ApplyPatch", reflect.TypeOf((*MockDatabase)(nil).ApplyPatch), patch)
}

// TreeNodes mocks base method.
func (m *MockDatabase) TreeNodes(keys []NodeLookup) ([]Node, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TreeNodes", keys)
	ret0, _ := ret[0].([]Node)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TreeNodes indicates an expected call of TreeNodes.
func (mr *MockDatabaseMockRecorder) TreeNodes(keys any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TreeNodes", reflect.TypeOf((*MockDatabase)(nil).TreeNodes), keys)
}

// TryManifest mocks base method.
func (m *MockDatabase) TryManifest() (*Manifest, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryManifest")
	ret0, _ := ret[0].(*Manifest)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryManifest indicates an expected call of TryManifest.
func (mr *MockDatabaseMockRecorder) TryManifest() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryManifest", reflect.TypeOf((*MockDatabase)(nil).TryManifest))
}

// TryRoot mocks base method.
func (m *MockDatabase) TryRoot(version uint64) (*Root, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryRoot", version)
	ret0, _ := ret[0].(*Root)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryRoot indicates an expected call of TryRoot.
func (mr *MockDatabaseMockRecorder) TryRoot(version any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryRoot", reflect.TypeOf((*MockDatabase)(nil).TryRoot), version)
}

// TryTreeNode mocks base method.
func (m *MockDatabase) TryTreeNode(key NodeKey, isLeaf bool) (Node, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryTreeNode", key, isLeaf)
	ret0, _ := ret[0].(Node)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryTreeNode indicates an expected call of TryTreeNode.
func (mr *MockDatabaseMockRecorder) TryTreeNode(key, isLeaf any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryTreeNode", reflect.TypeOf((*MockDatabase)(nil).TryTreeNode), key, isLeaf)
}

// MockPruneDatabase is a mock of PruneDatabase interface.
type MockPruneDatabase struct {
	ctrl     *gomock.Controller
	recorder *MockPruneDatabaseMockRecorder
}

// MockPruneDatabaseMockRecorder is the mock recorder for MockPruneDatabase.
type MockPruneDatabaseMockRecorder struct {
	mock *MockPruneDatabase
}

// NewMockPruneDatabase creates a new mock instance.
func NewMockPruneDatabase(ctrl *gomock.Controller) *MockPruneDatabase {
	mock := &MockPruneDatabase{ctrl: ctrl}
	mock.recorder = &MockPruneDatabaseMockRecorder{mock}
	return mock
}

// EXPECT returns an object that allows the caller to indicate expected use.
func (m *MockPruneDatabase) EXPECT() *MockPruneDatabaseMockRecorder {
	return m.recorder
}

// ApplyPatch mocks base method.
func (m *MockPruneDatabase) ApplyPatch(patch *PatchSet) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "ApplyPatch", patch)
	ret0, _ := ret[0].(error)
	return ret0
}

// ApplyPatch indicates an expected call of ApplyPatch.
func (mr *MockPruneDatabaseMockRecorder) ApplyPatch(patch any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "ApplyPatch", reflect.TypeOf((*MockPruneDatabase)(nil).ApplyPatch), patch)
}

// MinStaleKeyVersion mocks base method.
func (m *MockPruneDatabase) MinStaleKeyVersion() (uint64, bool, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "MinStaleKeyVersion")
	ret0, _ := ret[0].(uint64)
	ret1, _ := ret[1].(bool)
	ret2, _ := ret[2].(error)
	return ret0, ret1, ret2
}

// MinStaleKeyVersion indicates an expected call of MinStaleKeyVersion.
func (mr *MockPruneDatabaseMockRecorder) MinStaleKeyVersion() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "MinStaleKeyVersion", reflect.TypeOf((*MockPruneDatabase)(nil).MinStaleKeyVersion))
}

// Prune mocks base method.
func (m *MockPruneDatabase) Prune(patch *PrunePatchSet) error {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "Prune", patch)
	ret0, _ := ret[0].(error)
	return ret0
}

// Prune indicates an expected call of Prune.
func (mr *MockPruneDatabaseMockRecorder) Prune(patch any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "Prune", reflect.TypeOf((*MockPruneDatabase)(nil).Prune), patch)
}

// StaleKeys mocks base method.
func (m *MockPruneDatabase) StaleKeys(version uint64) ([]NodeKey, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "StaleKeys", version)
	ret0, _ := ret[0].([]NodeKey)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// StaleKeys indicates an expected call of StaleKeys.
func (mr *MockPruneDatabaseMockRecorder) StaleKeys(version any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "StaleKeys", reflect.TypeOf((*MockPruneDatabase)(nil).StaleKeys), version)
}

// TreeNodes mocks base method.
func (m *MockPruneDatabase) TreeNodes(keys []NodeLookup) ([]Node, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TreeNodes", keys)
	ret0, _ := ret[0].([]Node)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TreeNodes indicates an expected call of TreeNodes.
func (mr *MockPruneDatabaseMockRecorder) TreeNodes(keys any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TreeNodes", reflect.TypeOf((*MockPruneDatabase)(nil).TreeNodes), keys)
}

// TryManifest mocks base method.
func (m *MockPruneDatabase) TryManifest() (*Manifest, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryManifest")
	ret0, _ := ret[0].(*Manifest)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryManifest indicates an expected call of TryManifest.
func (mr *MockPruneDatabaseMockRecorder) TryManifest() *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryManifest", reflect.TypeOf((*MockPruneDatabase)(nil).TryManifest))
}

// TryRoot mocks base method.
func (m *MockPruneDatabase) TryRoot(version uint64) (*Root, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryRoot", version)
	ret0, _ := ret[0].(*Root)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryRoot indicates an expected call of TryRoot.
func (mr *MockPruneDatabaseMockRecorder) TryRoot(version any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryRoot", reflect.TypeOf((*MockPruneDatabase)(nil).TryRoot), version)
}

// TryTreeNode mocks base method.
func (m *MockPruneDatabase) TryTreeNode(key NodeKey, isLeaf bool) (Node, error) {
	m.ctrl.T.Helper()
	ret := m.ctrl.Call(m, "TryTreeNode", key, isLeaf)
	ret0, _ := ret[0].(Node)
	ret1, _ := ret[1].(error)
	return ret0, ret1
}

// TryTreeNode indicates an expected call of TryTreeNode.
func (mr *MockPruneDatabaseMockRecorder) TryTreeNode(key, isLeaf any) *gomock.Call {
	mr.mock.ctrl.T.Helper()
	return mr.mock.ctrl.RecordCallWithMethodType(mr.mock, "TryTreeNode", reflect.TypeOf((*MockPruneDatabase)(nil).TryTreeNode), key, isLeaf)
}
