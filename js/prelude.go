package js

// prelude is evaluated once per sandbox, before any entity script.
// It defines the whole surface a script may touch; everything funnels
// into the five host functions.
const prelude = `'use strict';
var console = {
  log: function() { __log('log', Array.prototype.slice.call(arguments).join(' ')); },
  warn: function() { __log('log', Array.prototype.slice.call(arguments).join(' ')); },
  error: function() { __log('error', Array.prototype.slice.call(arguments).join(' ')); }
};

function on(type, fn) { addCallback(type, fn); }
function onInit(fn) { addCallback('init', fn); }
function onTick(fn) { addCallback('tick', fn); }
function onStop(fn) { addCallback('stop', fn); }
function onCollisionStart(fn) { addCallback('COLLISION_START', fn); }
function onCollisionEnd(fn) { addCallback('COLLISION_END', fn); }
function onTriggerEnter(fn) { addCallback('TRIGGER_ENTER', fn); }
function onTriggerExit(fn) { addCallback('TRIGGER_EXIT', fn); }

function send(cmd, payload) {
  var c = {};
  if (payload) {
    for (var k in payload) { c[k] = payload[k]; }
  }
  c.cmd = cmd;
  __queueCommand(c);
}

function setHud(elements) { __post({type: 'ui', elements: elements || []}); }

var camera = {
  setMode: function(mode) { __post({type: 'camera_set_mode', mode: mode}); },
  setTarget: function(entityId) { __post({type: 'camera_set_target', entityId: entityId}); },
  shake: function(intensity, durationMs) { __post({type: 'camera_shake', intensity: intensity, durationMs: durationMs}); },
  setProperty: function(name, value) { __post({type: 'camera_set_property', name: name, value: value}); }
};

var dialogue = {
  start: function(node) { __post({type: 'dialogue_start', node: node}); },
  end: function() { __post({type: 'dialogue_end'}); },
  advance: function() { __post({type: 'dialogue_advance'}); },
  skip: function() { __post({type: 'dialogue_skip'}); },
  setVariable: function(name, value) { __post({type: 'dialogue_set_variable', name: name, value: value}); }
};

function loadScene(scene, config) { __post({type: 'scene_load', scene: scene, config: config || null}); }
function restartScene() { __post({type: 'scene_restart'}); }
`
